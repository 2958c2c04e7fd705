package util

import (
	"cmp"
	"iter"
	"slices"
)

// SortedKeys collects the keys of an iterator in ascending order. Useful to
// get deterministic iteration over hash-ordered maps.
func SortedKeys[K cmp.Ordered, V any](seq iter.Seq2[K, V]) []K {
	var keys []K
	for k := range seq {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
