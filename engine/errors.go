// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the three surfaced failure kinds. Everything else
// the engine encounters degrades to baseline content and is never
// surfaced.
var (
	// ErrAborted is returned when the cancellation signal fires. Callers
	// receive no partial result.
	ErrAborted = errors.New("readcache: aborted")

	// ErrMissingContext is returned when the tool is invoked without the
	// required host context.
	ErrMissingContext = errors.New("readcache: host context required")

	// ErrValidation wraps user-facing request validation failures.
	ErrValidation = errors.New("readcache: invalid request")
)

// validationErrorf builds an ErrValidation-wrapped error.
func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// aborted converts a fired context into the uniform abort error.
func aborted(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
	default:
		return nil
	}
}
