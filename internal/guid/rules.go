// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
rules.go - User Identifier Mapping Rules

The rule file lets users teach the resolvers about provider keys they do not
know out of the box. It is YAML, versioned, and split per backend family:

	version: 1.0
	guids:
	  - name: guid_mydb
	    type: string
	    validator: { pattern: "^[0-9]+$", example: "(number)" }
	links:
	  - type: plex
	    options: { replace: { from: "com.plexapp.agents.foo://", to: "com.plexapp.agents.imdb://" }, legacy: true }
	    map: { from: com.plexapp.agents.ccdb, to: guid_imdb }
	jellyfin:
	  - map: { from: mydb, to: guid_mydb }
	    replace: { from: tmdbcollection, to: tmdb }
	emby:
	  - map: { from: mydb, to: guid_mydb }

Document level problems (bad YAML, wrong version, a section that is not a
list) fail the load. Problems inside one entry only skip that entry.
*/

//nolint:staticcheck // File documentation, not package doc
package guid

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/spf13/afero"

	"github.com/tomtom215/statesync/internal/logging"
)

// SupportedVersion is the highest rule file version understood.
const SupportedVersion = "1.0"

var (
	// ErrUnsupportedVersion is returned for rule files newer than SupportedVersion.
	ErrUnsupportedVersion = errors.New("unsupported rule file version")

	// ErrInvalidDocument is returned when the rule file structure is unusable.
	ErrInvalidDocument = errors.New("invalid rule file")
)

// builtinKeys is the provider key table shared by every backend kind.
var builtinKeys = map[string]Authority{
	"imdb":         IMDB,
	"tmdb":         TMDB,
	"tvdb":         TVDB,
	"tvmaze":       TVMaze,
	"tvrage":       TVRage,
	"anidb":        AniDB,
	"ytinforeader": YouTube,
	"cmdb":         CMDB,
}

// ReplaceRule rewrites a raw key (or, for Plex, a guid prefix).
type ReplaceRule struct {
	From string
	To   string
}

// KeyRules are the Jellyfin and Emby rules: key rewrites and key bindings.
type KeyRules struct {
	Replace map[string]string
	Maps    map[string]Authority
}

// PlexRules are the Plex rules.
type PlexRules struct {
	// Replace rewrites the full guid string by prefix.
	Replace []ReplaceRule
	// Maps binds agent names (legacy) or full keys (non-legacy) to authorities.
	Maps map[string]Authority
	// Legacy lists extra agents handled like com.plexapp.agents.imdb.
	Legacy []string
}

// Rules is a parsed rule file.
type Rules struct {
	Version  string
	Custom   []Authority
	Plex     PlexRules
	Jellyfin KeyRules
	Emby     KeyRules
}

// EmptyRules returns a rule set that changes nothing.
func EmptyRules() *Rules {
	return &Rules{
		Version:  SupportedVersion,
		Plex:     PlexRules{Maps: map[string]Authority{}},
		Jellyfin: KeyRules{Replace: map[string]string{}, Maps: map[string]Authority{}},
		Emby:     KeyRules{Replace: map[string]string{}, Maps: map[string]Authority{}},
	}
}

// ForKind returns the key rules of a Jellyfin-family backend.
func (r *Rules) ForKind(kind string) KeyRules {
	if r == nil {
		return EmptyRules().Jellyfin
	}
	if strings.EqualFold(kind, "emby") {
		return r.Emby
	}
	return r.Jellyfin
}

// LoadRules reads the rule file at path from fs. A missing file yields empty
// rules. Custom authorities are registered into reg.
func LoadRules(fs afero.Fs, path string, reg *Registry) (*Rules, error) {
	if path == "" {
		return EmptyRules(), nil
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("stat rule file %s: %w", path, err)
	}
	if !exists {
		logging.Debug().Str("file", path).Msg("No identifier rule file, using built-in mappings")
		return EmptyRules(), nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}

	rules, err := ParseRules(data, reg)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules parses a rule document.
func ParseRules(data []byte, reg *Registry) (*Rules, error) {
	rules := EmptyRules()

	if len(bytes.TrimSpace(data)) == 0 {
		logging.Info().Msg("Identifier rule file is empty")
		return rules, nil
	}

	doc, err := yaml.Parser().Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc == nil {
		logging.Info().Msg("Identifier rule file is empty")
		return rules, nil
	}

	if v, ok := doc["version"]; ok && v != nil {
		rules.Version = ValueString(v)
	}
	if compareVersions(rules.Version, SupportedVersion) > 0 {
		return nil, fmt.Errorf("%w: %s, expecting %s", ErrUnsupportedVersion, rules.Version, SupportedVersion)
	}

	sections := make(map[string][]interface{}, 4)
	for _, name := range []string{"guids", "links", "jellyfin", "emby"} {
		raw, ok := doc[name]
		if !ok || raw == nil {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a list", ErrInvalidDocument, name)
		}
		sections[name] = list
	}

	// custom authorities first so map rules in the same file can target them
	for i, entry := range sections["guids"] {
		if a, ok := parseCustomAuthority(i, entry, reg); ok {
			rules.Custom = append(rules.Custom, a)
		}
	}
	for i, entry := range sections["links"] {
		parsePlexEntry(i, entry, reg, &rules.Plex)
	}
	for _, kind := range []string{"jellyfin", "emby"} {
		target := &rules.Jellyfin
		if kind == "emby" {
			target = &rules.Emby
		}
		for i, entry := range sections[kind] {
			parseKeyEntry(kind, i, entry, reg, target)
		}
	}

	return rules, nil
}

func parseCustomAuthority(i int, entry interface{}, reg *Registry) (Authority, bool) {
	warn := func(msg string) {
		logging.Warn().Str("section", "guids").Int("index", i).Msg("Ignoring rule entry: " + msg)
	}

	def, ok := asMap(entry)
	if !ok {
		warn("value must be an object")
		return "", false
	}

	name, _ := asString(def["name"])
	if !strings.HasPrefix(name, Prefix) || name == Prefix {
		warn("name must start with guid_")
		return "", false
	}

	kind := KindString
	switch t, _ := asString(def["type"]); strings.ToLower(t) {
	case "string":
	case "number", "numeric", "int", "integer":
		kind = KindNumeric
	default:
		warn("type must be string or number")
		return "", false
	}

	validator, ok := asMap(def["validator"])
	if !ok {
		warn("validator must be an object")
		return "", false
	}
	pattern, err := compilePattern(validator["pattern"])
	if err != nil {
		warn(err.Error())
		return "", false
	}
	example, _ := asString(validator["example"])
	if example == "" {
		warn("validator.example is empty")
		return "", false
	}
	if tests, ok := asMap(validator["tests"]); ok {
		if msg := checkPatternTests(pattern, tests); msg != "" {
			warn(msg)
			return "", false
		}
	}

	description, _ := asString(validator["description"])
	d := Definition{Name: Authority(name), Kind: kind, Pattern: pattern, Example: example, Description: description}
	if err := reg.Register(d); err != nil {
		warn(err.Error())
		return "", false
	}
	return d.Name, true
}

func parsePlexEntry(i int, entry interface{}, reg *Registry, out *PlexRules) {
	warn := func(msg string) {
		logging.Warn().Str("section", "links").Int("index", i).Msg("Ignoring rule entry: " + msg)
	}

	m, ok := asMap(entry)
	if !ok {
		warn("value must be an object")
		return
	}
	if t, _ := asString(m["type"]); !strings.EqualFold(t, "plex") {
		return
	}

	options, _ := asMap(m["options"])

	var replace *ReplaceRule
	if raw, present := options["replace"]; present && raw != nil {
		r, msg := parsePair(raw, true)
		if msg != "" {
			warn("options.replace " + msg)
			return
		}
		replace = &r
	}

	var binding *ReplaceRule
	if raw, present := m["map"]; present && raw != nil {
		b, msg := parsePair(raw, false)
		if msg != "" {
			warn("map " + msg)
			return
		}
		if msg := checkTarget(b.To, reg); msg != "" {
			warn(msg)
			return
		}
		binding = &b
	}

	if replace != nil {
		out.Replace = append(out.Replace, *replace)
	}
	if binding == nil {
		return
	}

	legacy := true
	if v, present := options["legacy"]; present {
		if b, isBool := v.(bool); isBool {
			legacy = b
		}
	}

	if !legacy {
		key := strings.ToLower(binding.From)
		if _, dup := builtinKeys[key]; dup {
			warn("map.from already bound")
			return
		}
		if _, dup := out.Maps[key]; dup {
			warn("map.from already bound")
			return
		}
		out.Maps[key] = Authority(binding.To)
		return
	}

	agent := strings.ToLower(binding.From)
	if isLegacyAgent(agent, legacyAgents) || isLegacyAgent(agent, out.Legacy) {
		warn("map.from already exists")
		return
	}
	name := legacyAgentName(agent)
	if _, dup := out.Maps[name]; dup {
		warn("map.from already bound")
		return
	}
	out.Legacy = append(out.Legacy, strings.TrimSuffix(agent, "://"))
	out.Maps[name] = Authority(binding.To)
}

func parseKeyEntry(kind string, i int, entry interface{}, reg *Registry, out *KeyRules) {
	warn := func(msg string) {
		logging.Warn().Str("section", kind).Int("index", i).Msg("Ignoring rule entry: " + msg)
	}

	m, ok := asMap(entry)
	if !ok {
		warn("value must be an object")
		return
	}

	rawMap, hasMap := m["map"]
	rawReplace, hasReplace := m["replace"]
	if (!hasMap || rawMap == nil) && (!hasReplace || rawReplace == nil) {
		warn("entry needs a map or replace object")
		return
	}

	var binding, replace *ReplaceRule
	if hasMap && rawMap != nil {
		b, msg := parsePair(rawMap, false)
		if msg != "" {
			warn("map " + msg)
			return
		}
		if msg := checkTarget(b.To, reg); msg != "" {
			warn(msg)
			return
		}
		b.From = strings.ToLower(b.From)
		if _, dup := builtinKeys[b.From]; dup {
			warn("map.from already bound")
			return
		}
		if _, dup := out.Maps[b.From]; dup {
			warn("map.from already bound")
			return
		}
		binding = &b
	}
	if hasReplace && rawReplace != nil {
		r, msg := parsePair(rawReplace, false)
		if msg != "" {
			warn("replace " + msg)
			return
		}
		r.From, r.To = strings.ToLower(r.From), strings.ToLower(r.To)
		if _, dup := out.Replace[r.From]; dup {
			warn("replace.from already bound")
			return
		}
		replace = &r
	}

	if binding != nil {
		out.Maps[binding.From] = Authority(binding.To)
	}
	if replace != nil {
		out.Replace[replace.From] = replace.To
	}
}

// parsePair reads {from, to}. allowEmptyTo permits to: "".
func parsePair(raw interface{}, allowEmptyTo bool) (ReplaceRule, string) {
	m, ok := asMap(raw)
	if !ok {
		return ReplaceRule{}, "value must be an object"
	}
	from, ok := asString(m["from"])
	if !ok || from == "" {
		return ReplaceRule{}, "from is empty or not a string"
	}
	to, ok := asString(m["to"])
	if !ok || (!allowEmptyTo && to == "") {
		return ReplaceRule{}, "to is empty or not a string"
	}
	return ReplaceRule{From: from, To: to}, ""
}

func checkTarget(to string, reg *Registry) string {
	if !strings.HasPrefix(to, Prefix) {
		return fmt.Sprintf("map.to %q does not start with %s", to, Prefix)
	}
	if !reg.Has(Authority(to)) {
		return fmt.Sprintf("map.to %q is not a supported authority", to)
	}
	return ""
}

// compilePattern accepts plain patterns and /delimited/flags patterns.
func compilePattern(v interface{}) (*regexp.Regexp, error) {
	p, ok := asString(v)
	if !ok || p == "" {
		return nil, fmt.Errorf("validator.pattern is empty")
	}

	if len(p) > 2 && p[0] == '/' {
		if end := strings.LastIndex(p, "/"); end > 0 {
			flags := p[end+1:]
			p = p[1:end]
			if strings.Contains(flags, "i") {
				p = "(?i)" + p
			}
		}
	}

	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("validator.pattern is invalid: %v", err)
	}
	return re, nil
}

func checkPatternTests(re *regexp.Regexp, tests map[string]interface{}) string {
	if valid, ok := tests["valid"].([]interface{}); ok {
		for _, v := range valid {
			if s := ValueString(v); !re.MatchString(s) {
				return fmt.Sprintf("validator.tests.valid value %q does not match pattern", s)
			}
		}
	}
	if invalid, ok := tests["invalid"].([]interface{}); ok {
		for _, v := range invalid {
			if s := ValueString(v); re.MatchString(s) {
				return fmt.Sprintf("validator.tests.invalid value %q matches pattern", s)
			}
		}
	}
	return ""
}

// compareVersions compares dotted numeric versions. Missing parts count as 0.
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for len(pa) < len(pb) {
		pa = append(pa, "0")
	}
	for len(pb) < len(pa) {
		pb = append(pb, "0")
	}
	for i := range pa {
		x, _ := strconv.Atoi(strings.TrimSpace(pa[i]))
		y, _ := strconv.Atoi(strings.TrimSpace(pb[i]))
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
