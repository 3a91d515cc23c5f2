// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package guid

import (
	"sort"
	"strings"
)

// Set maps an authority to its value. At most one value per authority; an
// absent key means unknown. Empty values are never stored.
type Set map[Authority]string

// Add stores v under a. Empty values are refused.
func (s Set) Add(a Authority, v string) bool {
	if v == "" {
		return false
	}
	s[a] = v
	return true
}

// Get returns the value stored under a.
func (s Set) Get(a Authority) (string, bool) {
	v, ok := s[a]
	return v, ok
}

// Authorities returns the keys in sorted order.
func (s Set) Authorities() []Authority {
	out := make([]Authority, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pointers returns "guid_<name>://<value>" lookup keys, sorted.
func (s Set) Pointers() []string {
	out := make([]string, 0, len(s))
	for _, a := range s.Authorities() {
		out = append(out, Pointer(a, s[a]))
	}
	return out
}

// Clone returns a copy. A nil Set clones to an empty one.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for a, v := range s {
		out[a] = v
	}
	return out
}

// Equal reports whether both sets hold the same pairs.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for a, v := range s {
		if ov, ok := o[a]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Merge returns a copy of s with values from o added for authorities s lacks.
func (s Set) Merge(o Set) Set {
	out := s.Clone()
	for a, v := range o {
		if _, ok := out[a]; !ok && v != "" {
			out[a] = v
		}
	}
	return out
}

// Pointer formats one lookup key.
func Pointer(a Authority, v string) string {
	return string(a) + "://" + v
}

// ParsePointer splits "guid_imdb://tt1" into its parts.
func ParsePointer(p string) (Authority, string, bool) {
	a, v, ok := strings.Cut(p, "://")
	if !ok || !strings.HasPrefix(a, Prefix) || v == "" {
		return "", "", false
	}
	return Authority(a), v, true
}

// RawID is one provider id pair exactly as the backend reported it.
type RawID struct {
	Key   string
	Value string
}

// RawIDs keeps the backend's ordering.
type RawIDs []RawID

// RawFromMap builds RawIDs from a decoded provider map, sorted by key so the
// same payload always yields the same order.
func RawFromMap(m map[string]interface{}) RawIDs {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(RawIDs, 0, len(keys))
	for _, k := range keys {
		out = append(out, RawID{Key: k, Value: ValueString(m[k])})
	}
	return out
}

// RawFromStrings is RawFromMap for string maps.
func RawFromStrings(m map[string]string) RawIDs {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(RawIDs, 0, len(keys))
	for _, k := range keys {
		out = append(out, RawID{Key: k, Value: m[k]})
	}
	return out
}

// Get returns the first value whose key matches case-insensitively.
func (r RawIDs) Get(key string) (string, bool) {
	for _, id := range r {
		if strings.EqualFold(id.Key, key) {
			return id.Value, true
		}
	}
	return "", false
}
