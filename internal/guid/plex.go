// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
plex.go - Plex Guid Resolver

Plex reports ids as agent URIs. Modern libraries use short keys
(imdb://tt0111161, tmdb://278), legacy agents embed the provider in the agent
name (com.plexapp.agents.imdb://tt0111161?lang=en) and HAMA packs it into the
value (com.plexapp.agents.hama://anidb-1234).

Resolution per raw id:
 1. local agents and empty values are skipped
 2. legacy relative ids (show/season/episode paths) are skipped
 3. the longest matching prefix replacement is applied
 4. legacy agents are reduced to provider://value
 5. the provider is mapped to an authority and the value coerced

When an authority appears twice the lower numeric value wins.
*/

//nolint:staticcheck // File documentation, not package doc
package guid

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// legacyAgents are agents whose guid carries the provider in the agent name.
var legacyAgents = []string{
	"com.plexapp.agents.imdb",
	"com.plexapp.agents.tmdb",
	"com.plexapp.agents.themoviedb",
	"com.plexapp.agents.thetvdb",
	"com.plexapp.agents.tvdb",
	"com.plexapp.agents.xbmcnfo",
	"com.plexapp.agents.xbmcnfotv",
	"com.plexapp.agents.hama",
	"com.plexapp.agents.youtube",
	"com.plexapp.agents.cmdb",
	"com.plexapp.agents.tvmaze",
}

// localAgents never carry external ids.
var localAgents = map[string]struct{}{
	"plex":                     {},
	"local":                    {},
	"com.plexapp.agents.none":  {},
	"tv.plex.agents.none":      {},
	"com.plexapp.agents.local": {},
}

// builtinPlexReplace rewrites legacy agent guids into the short form.
var builtinPlexReplace = []ReplaceRule{
	{From: "com.plexapp.agents.themoviedb://", To: "com.plexapp.agents.tmdb://"},
	{From: "com.plexapp.agents.xbmcnfotv://", To: "com.plexapp.agents.tvdb://"},
	{From: "com.plexapp.agents.thetvdb://", To: "com.plexapp.agents.tvdb://"},
	{From: "com.plexapp.agents.xbmcnfo://tt", To: "com.plexapp.agents.imdb://tt"},
	{From: "com.plexapp.agents.xbmcnfo://", To: "com.plexapp.agents.tmdb://"},
}

var hamaPattern = regexp.MustCompile(`(anidb|tvdb|tmdb|tsdb|imdb)\d?-([^\[\]]*)`)

// PlexResolver resolves Plex Guid entries.
type PlexResolver struct {
	backend string
	reg     *Registry
	replace []ReplaceRule
	maps    map[string]Authority
	legacy  []string
	ignore  *IgnoreList
}

var _ Resolver = (*PlexResolver)(nil)

// NewPlexResolver creates a resolver for one Plex backend.
func NewPlexResolver(backend string, reg *Registry, rules PlexRules, ignore *IgnoreList) *PlexResolver {
	replace := make([]ReplaceRule, 0, len(builtinPlexReplace)+len(rules.Replace))
	replace = append(replace, rules.Replace...)
	replace = append(replace, builtinPlexReplace...)
	// longest prefix first, user rules win ties
	sort.SliceStable(replace, func(i, j int) bool { return len(replace[i].From) > len(replace[j].From) })

	maps := make(map[string]Authority, len(builtinKeys)+len(rules.Maps))
	for k, a := range builtinKeys {
		maps[k] = a
	}
	maps["youtube"] = YouTube
	for k, a := range rules.Maps {
		maps[k] = a
	}

	legacy := make([]string, 0, len(legacyAgents)+len(rules.Legacy))
	legacy = append(legacy, legacyAgents...)
	legacy = append(legacy, rules.Legacy...)

	return &PlexResolver{
		backend: backend,
		reg:     reg,
		replace: replace,
		maps:    maps,
		legacy:  legacy,
		ignore:  ignore,
	}
}

// Resolve implements Resolver.
func (r *PlexResolver) Resolve(itemType string, raw RawIDs) Set {
	return r.ResolveItem(itemType, "", raw)
}

// ResolveItem implements Resolver.
func (r *PlexResolver) ResolveItem(itemType, itemID string, raw RawIDs) Set {
	out := make(Set, len(raw))
	for _, id := range raw {
		a, v, ok := r.parse(id)
		if !ok {
			continue
		}
		if r.ignore.IsIgnored(r.backend, itemType, string(a), v, itemID) {
			continue
		}
		v, ok = r.reg.Coerce(a, v)
		if !ok {
			continue
		}
		if prev, dup := out[a]; dup {
			if !isDigits(v) || !lowerNumeric(v, prev) {
				continue
			}
		}
		out[a] = v
	}
	return out
}

// HasSupported implements Resolver.
func (r *PlexResolver) HasSupported(_ string, raw RawIDs) bool {
	for _, id := range raw {
		if _, _, ok := r.parse(id); ok {
			return true
		}
	}
	return false
}

// parse turns one raw id into an authority and an uncoerced value.
func (r *PlexResolver) parse(id RawID) (Authority, string, bool) {
	agent := strings.ToLower(strings.TrimSpace(id.Key))
	value := strings.TrimSpace(id.Value)
	if agent == "" || value == "" {
		return "", "", false
	}
	if _, local := localAgents[agent]; local {
		return "", "", false
	}

	guid := agent + "://" + value

	// legacy relative ids: agent://show/season/episode
	if strings.HasPrefix(agent, "com.plexapp.agents.") && strings.Count(guid, "/") >= 3 {
		return "", "", false
	}

	for _, rule := range r.replace {
		if strings.HasPrefix(guid, rule.From) {
			guid = rule.To + guid[len(rule.From):]
			break
		}
	}

	if before, _, ok := strings.Cut(guid, "://"); ok && isLegacyAgent(before, r.legacy) {
		guid = r.reduceLegacy(before, guid)
		if guid == "" {
			return "", "", false
		}
	}

	key, val, ok := strings.Cut(guid, "://")
	if !ok || val == "" {
		return "", "", false
	}
	a, ok := r.maps[strings.ToLower(key)]
	if !ok || !r.reg.Has(a) {
		return "", "", false
	}
	return a, val, true
}

// reduceLegacy turns com.plexapp.agents.imdb://tt1?lang=en into imdb://tt1.
func (r *PlexResolver) reduceLegacy(agent, guid string) string {
	if agent == "com.plexapp.agents.hama" {
		m := hamaPattern.FindStringSubmatch(guid)
		if m == nil {
			return ""
		}
		source := m[1]
		if source == "tsdb" {
			source = "tmdb"
		}
		value, _, _ := strings.Cut(m[2], "?")
		return source + "://" + value
	}

	out := strings.TrimPrefix(guid, agent[:len(agent)-len(legacyAgentName(agent))])
	out, _, _ = strings.Cut(out, "?")
	return out
}

// legacyAgentName returns the provider part of an agent: "imdb" for
// com.plexapp.agents.imdb.
func legacyAgentName(agent string) string {
	agent = strings.TrimSuffix(agent, "://")
	if i := strings.LastIndex(agent, "agents."); i >= 0 {
		return agent[i+len("agents."):]
	}
	return agent
}

func isLegacyAgent(agent string, legacy []string) bool {
	agent = strings.TrimSuffix(strings.ToLower(agent), "://")
	for _, l := range legacy {
		if agent == l {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func lowerNumeric(v, prev string) bool {
	a, errA := strconv.ParseUint(v, 10, 64)
	b, errB := strconv.ParseUint(prev, 10, 64)
	if errA != nil || errB != nil {
		return false
	}
	return a < b
}
