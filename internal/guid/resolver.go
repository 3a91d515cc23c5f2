// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package guid

import (
	"strings"
)

// Resolver translates a backend's native provider ids into a Set.
type Resolver interface {
	// Resolve returns the supported ids found in raw. Unknown keys are dropped.
	Resolve(itemType string, raw RawIDs) Set

	// ResolveItem is Resolve for a known backend item, so ignore entries
	// scoped to that item apply.
	ResolveItem(itemType, itemID string, raw RawIDs) Set

	// HasSupported reports whether raw holds at least one supported id.
	HasSupported(itemType string, raw RawIDs) bool
}

// KeyResolver resolves Jellyfin and Emby ProviderIds maps, which use bare
// provider names as keys ({"Imdb": "tt1", "Tmdb": "2"}).
type KeyResolver struct {
	backend string
	reg     *Registry
	rules   KeyRules
	ignore  *IgnoreList
}

var _ Resolver = (*KeyResolver)(nil)

// NewKeyResolver creates a resolver for one Jellyfin-family backend.
func NewKeyResolver(backend string, reg *Registry, rules KeyRules, ignore *IgnoreList) *KeyResolver {
	if rules.Replace == nil {
		rules.Replace = map[string]string{}
	}
	if rules.Maps == nil {
		rules.Maps = map[string]Authority{}
	}
	return &KeyResolver{backend: backend, reg: reg, rules: rules, ignore: ignore}
}

// Resolve implements Resolver.
func (r *KeyResolver) Resolve(itemType string, raw RawIDs) Set {
	return r.ResolveItem(itemType, "", raw)
}

// ResolveItem implements Resolver.
func (r *KeyResolver) ResolveItem(itemType, itemID string, raw RawIDs) Set {
	out := make(Set, len(raw))
	for _, id := range raw {
		a, ok := r.authority(id.Key)
		if !ok {
			continue
		}
		if _, seen := out[a]; seen {
			continue
		}
		if r.ignore.IsIgnored(r.backend, itemType, string(a), id.Value, itemID) {
			continue
		}
		if v, ok := r.reg.Coerce(a, id.Value); ok {
			out[a] = v
		}
	}
	return out
}

// HasSupported implements Resolver.
func (r *KeyResolver) HasSupported(_ string, raw RawIDs) bool {
	for _, id := range raw {
		if id.Value == "" {
			continue
		}
		if _, ok := r.authority(id.Key); ok {
			return true
		}
	}
	return false
}

func (r *KeyResolver) authority(key string) (Authority, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if to, ok := r.rules.Replace[key]; ok {
		key = to
	}
	if a, ok := builtinKeys[key]; ok {
		return a, true
	}
	if a, ok := r.rules.Maps[key]; ok && r.reg.Has(a) {
		return a, true
	}
	return "", false
}
