package graph

import "strings"

// SkipAll in a skip list deselects every library.
const SkipAll = "all"

// SkipSet is the parsed --skip list.
type SkipSet struct {
	all  bool
	keys map[string]bool
}

// ParseSkip splits a comma separated list. Matching is case-insensitive
// and blank items are ignored.
func ParseSkip(list string) SkipSet {
	s := SkipSet{keys: map[string]bool{}}
	for _, item := range strings.Split(list, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if item == SkipAll {
			s.all = true
		}
		s.keys[item] = true
	}
	return s
}

// All reports whether the sentinel was given.
func (s SkipSet) All() bool { return s.all }

// Skips reports whether a library known by key and aliases is deselected.
func (s SkipSet) Skips(key string, aliases ...string) bool {
	if s.all {
		return true
	}
	if s.keys[strings.ToLower(key)] {
		return true
	}
	for _, a := range aliases {
		if s.keys[strings.ToLower(a)] {
			return true
		}
	}
	return false
}

// Unknown returns the items that name none of the planners.
func (s SkipSet) Unknown(planners []Planner) []string {
	known := map[string]bool{SkipAll: true}
	for _, p := range planners {
		known[strings.ToLower(p.Key())] = true
		for _, a := range p.Aliases() {
			known[strings.ToLower(a)] = true
		}
	}
	var out []string
	for k := range s.keys {
		if !known[k] {
			out = append(out, k)
		}
	}
	return out
}
