// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package replay

// ScopeTrust records that the model has observed the content identified
// by Hash for one (pathKey, scopeKey) slot. Seq arbitrates freshness when
// multiple candidate bases exist.
type ScopeTrust struct {
	Hash string `json:"hash"`
	Seq  int64  `json:"seq"`
}

// KnowledgeMap maps pathKey → scopeKey → ScopeTrust.
//
// Invariant: any present pathKey has a non-empty inner map. Full and
// range trusts for the same file are independent slots.
type KnowledgeMap map[string]map[string]ScopeTrust

// Get returns the trust for a slot.
func (k KnowledgeMap) Get(pathKey, scopeKey string) (ScopeTrust, bool) {
	scopes, ok := k[pathKey]
	if !ok {
		return ScopeTrust{}, false
	}
	t, ok := scopes[scopeKey]
	return t, ok
}

// Set records trust for a slot, creating the inner map as needed.
func (k KnowledgeMap) Set(pathKey, scopeKey string, t ScopeTrust) {
	scopes, ok := k[pathKey]
	if !ok {
		scopes = make(map[string]ScopeTrust)
		k[pathKey] = scopes
	}
	scopes[scopeKey] = t
}

// Delete removes a slot, dropping the outer entry when the inner map
// empties to preserve the non-empty invariant.
func (k KnowledgeMap) Delete(pathKey, scopeKey string) {
	scopes, ok := k[pathKey]
	if !ok {
		return
	}
	delete(scopes, scopeKey)
	if len(scopes) == 0 {
		delete(k, pathKey)
	}
}

// DeletePath removes every slot for a pathKey.
func (k KnowledgeMap) DeletePath(pathKey string) {
	delete(k, pathKey)
}

// Scopes returns the number of tracked (pathKey, scopeKey) slots.
func (k KnowledgeMap) Scopes() int {
	n := 0
	for _, scopes := range k {
		n += len(scopes)
	}
	return n
}

// Clone deep-copies the map so hand-offs cannot mutate shared state.
func (k KnowledgeMap) Clone() KnowledgeMap {
	clone := make(KnowledgeMap, len(k))
	for pathKey, scopes := range k {
		inner := make(map[string]ScopeTrust, len(scopes))
		for scopeKey, t := range scopes {
			inner[scopeKey] = t
		}
		clone[pathKey] = inner
	}
	return clone
}
