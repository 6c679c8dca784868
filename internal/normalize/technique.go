package normalize

import (
	"fmt"
	"sort"
	"strings"
)

const techniquePrefix = "TECHNIQUE/"

// TechniqueID normalizes a single raw technique identifier. Values that do not
// start with "T" after normalization are rejected.
func TechniqueID(raw string) (string, bool) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	for strings.HasPrefix(id, techniquePrefix) {
		id = strings.TrimSpace(strings.TrimPrefix(id, techniquePrefix))
	}
	if !strings.HasPrefix(id, "T") {
		return "", false
	}
	return id, true
}

// TechniqueSet is a set of normalized technique identifiers.
type TechniqueSet map[string]struct{}

// NewTechniqueSet builds a set from already normalized ids.
func NewTechniqueSet(ids ...string) TechniqueSet {
	s := make(TechniqueSet, len(ids))
	s.Add(ids...)
	return s
}

// Add inserts ids without normalizing them. Empty strings are ignored.
func (s TechniqueSet) Add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
}

// AddRaw normalizes raw, which may be a string or a list, and inserts every
// accepted identifier.
func (s TechniqueSet) AddRaw(raw interface{}) {
	switch v := raw.(type) {
	case nil:
	case string:
		if id, ok := TechniqueID(v); ok {
			s[id] = struct{}{}
		}
	case []string:
		for _, item := range v {
			s.AddRaw(item)
		}
	case []interface{}:
		for _, item := range v {
			s.AddRaw(item)
		}
	case map[string]interface{}:
		// objects are not identifiers
	default:
		s.AddRaw(fmt.Sprint(v))
	}
}

// Has reports whether id is in the set.
func (s TechniqueSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order. It never returns nil.
func (s TechniqueSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Intersect returns the members present in both sets.
func (s TechniqueSet) Intersect(other TechniqueSet) TechniqueSet {
	out := make(TechniqueSet)
	for id := range s {
		if other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Difference returns the members of s absent from other.
func (s TechniqueSet) Difference(other TechniqueSet) TechniqueSet {
	out := make(TechniqueSet)
	for id := range s {
		if !other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}
