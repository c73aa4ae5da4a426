package schema

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// Set is an unordered collection of scalar values. Integers are held as int64
// and floats as float64 so that sets compare equal after a storage round trip.
type Set map[any]struct{}

// NewSet builds a Set from items.
func NewSet(items ...any) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts v.
func (s Set) Add(v any) {
	s[normalizeElement(v)] = struct{}{}
}

// Contains reports whether v is a member.
func (s Set) Contains(v any) bool {
	_, ok := s[normalizeElement(v)]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int { return len(s) }

// Equal reports whether both sets hold the same members.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Items returns the members in a deterministic order.
func (s Set) Items() []any {
	out := make([]any, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.SortFunc(out, compareElements)
	return out
}

func normalizeElement(v any) any {
	if n, ok := core.AsInt64(v); ok {
		return n
	}
	if f, ok := v.(float32); ok {
		return float64(f)
	}
	return v
}

func isSetElement(v any) bool {
	switch v.(type) {
	case string, bool, float32, float64:
		return true
	}
	_, ok := core.AsInt64(v)
	return ok
}

func elementRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case string:
		return 2
	}
	if _, ok := core.AsFloat64(v); ok {
		return 1
	}
	return 3
}

func compareElements(a, b any) int {
	if c, ok := core.Compare(a, b); ok {
		return c
	}
	if ra, rb := elementRank(a), elementRank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	if ab, ok := a.(bool); ok {
		bb := b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
