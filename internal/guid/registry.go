// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package guid resolves backend-native provider ids into the universal
// identifier set shared by every backend and the local store.
//
// The Registry holds the known authorities (guid_imdb, guid_tvdb, ...) and is
// built once at startup: built-ins plus any custom authorities declared in the
// rule file. Resolvers (one per backend kind) translate raw provider ids into
// a Set using the built-in tables and the user's mapping rules.
package guid

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Authority names an external id scheme, always prefixed "guid_".
type Authority string

// Built-in authorities.
const (
	IMDB    Authority = "guid_imdb"
	TVDB    Authority = "guid_tvdb"
	TMDB    Authority = "guid_tmdb"
	TVMaze  Authority = "guid_tvmaze"
	TVRage  Authority = "guid_tvrage"
	AniDB   Authority = "guid_anidb"
	YouTube Authority = "guid_youtube"
	CMDB    Authority = "guid_cmdb"
)

// Prefix is the mandatory authority name prefix.
const Prefix = "guid_"

// Name returns the authority without its prefix ("imdb").
func (a Authority) Name() string {
	return strings.TrimPrefix(string(a), Prefix)
}

// Kind is the value type of an authority.
type Kind int

const (
	// KindString values are kept verbatim.
	KindString Kind = iota
	// KindNumeric values must be digits (and "/" for multi-part ids).
	KindNumeric
)

func (k Kind) String() string {
	if k == KindNumeric {
		return "numeric"
	}
	return "string"
}

var (
	// ErrUnknownAuthority is returned for authorities missing from the registry.
	ErrUnknownAuthority = errors.New("unknown identifier authority")

	// ErrInvalidValue is returned when a value fails the authority validator.
	ErrInvalidValue = errors.New("invalid identifier value")

	numericPattern = regexp.MustCompile(`^[0-9/]+$`)
)

// Definition describes one authority.
type Definition struct {
	Name        Authority
	Kind        Kind
	Pattern     *regexp.Regexp // nil means any non-empty value
	Example     string
	Description string
}

// Registry is the set of known authorities. Register is meant for startup;
// afterwards the registry is only read.
type Registry struct {
	mu   sync.RWMutex
	defs map[Authority]Definition
}

// NewRegistry returns a registry holding the built-in authorities.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[Authority]Definition, 8)}

	r.defs[IMDB] = Definition{Name: IMDB, Kind: KindString, Pattern: regexp.MustCompile(`(?i)^tt[0-9/]+$`), Example: "tt(number)"}
	for _, a := range []Authority{TVDB, TMDB, TVMaze, TVRage, AniDB} {
		r.defs[a] = Definition{Name: a, Kind: KindNumeric, Pattern: numericPattern, Example: "(number)"}
	}
	r.defs[YouTube] = Definition{Name: YouTube, Kind: KindString}
	r.defs[CMDB] = Definition{Name: CMDB, Kind: KindString}

	for a, d := range r.defs {
		d.Description = fmt.Sprintf("The %s ID Parser.", a.Name())
		r.defs[a] = d
	}

	return r
}

// Register adds a custom authority. Names must start with guid_ and must not
// already be registered.
func (r *Registry) Register(def Definition) error {
	if !strings.HasPrefix(string(def.Name), Prefix) || len(def.Name) == len(Prefix) {
		return fmt.Errorf("authority %q must start with %q", def.Name, Prefix)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("authority %q already registered", def.Name)
	}
	if def.Description == "" {
		def.Description = fmt.Sprintf("The %s ID Parser.", def.Name.Name())
	}
	r.defs[def.Name] = def
	return nil
}

// Has reports whether a is registered.
func (r *Registry) Has(a Authority) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[a]
	return ok
}

// Lookup returns the definition of a.
func (r *Registry) Lookup(a Authority) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[a]
	return d, ok
}

// Supported returns all authorities, sorted.
func (r *Registry) Supported() []Authority {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Authority, 0, len(r.defs))
	for a := range r.defs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Coerce converts a raw value to the authority's representation. Numbers are
// rendered in decimal. It returns false when the value is empty, the
// authority is unknown, or a numeric authority receives a non-numeric value.
func (r *Registry) Coerce(a Authority, value interface{}) (string, bool) {
	def, ok := r.Lookup(a)
	if !ok {
		return "", false
	}

	s := ValueString(value)
	if s == "" {
		return "", false
	}
	if def.Kind == KindNumeric && !numericPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// Validate checks value against the authority validator.
func (r *Registry) Validate(a Authority, value string) error {
	def, ok := r.Lookup(a)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAuthority, a)
	}
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidValue, a)
	}
	if def.Kind == KindNumeric && !numericPattern.MatchString(value) {
		return fmt.Errorf("%w: %s %q expecting %s", ErrInvalidValue, a, value, def.Example)
	}
	if def.Pattern != nil && !def.Pattern.MatchString(value) {
		return fmt.Errorf("%w: %s %q expecting %s", ErrInvalidValue, a, value, def.Example)
	}
	return nil
}

// Sanitize returns a copy of s without unknown authorities or invalid values.
// Used when a Set is attached to a stored item.
func (r *Registry) Sanitize(s Set) Set {
	out := make(Set, len(s))
	for a, v := range s {
		if r.Validate(a, v) == nil {
			out[a] = v
		}
	}
	return out
}

// ValueString renders a decoded JSON/YAML scalar as a string.
func ValueString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
