// Package sampling provides collision-free random draws from a bounded
// integer space. Every generator that draws a population without replacement
// goes through EnsureUnique.
package sampling

import (
	"errors"
	"slices"

	"golang.org/x/exp/constraints"
)

// ErrExhaustedSampleSpace is returned when no value inside the requested
// bounds is free of the exclusion set. Callers treat it as a skipped draw.
var ErrExhaustedSampleSpace = errors.New("no sample space left to use")

// EnsureUnique resolves a candidate draw r against a sorted, duplicate-free
// exclusion set and returns a value that is not excluded and lies in
// [low, high).
//
// A candidate that is not excluded is returned unchanged. On a collision the
// excluded run containing r is walked upward until a gap appears; if that gap
// is out of bounds the run is walked downward instead. Cost is a binary search
// plus the length of the local cluster.
//
// The exclusion set must stay sorted: callers insert every accepted value with
// SortedInsert before the next draw.
func EnsureUnique[T constraints.Integer](r T, excluded []T, low, high T) (T, error) {
	start, found := slices.BinarySearch(excluded, r)
	if !found {
		return r, nil
	}

	up := r
	for i := start; i < len(excluded) && excluded[i] == up && up < high; i++ {
		up++
	}
	if up >= low && up < high {
		return up, nil
	}

	down := r
	for i := start; i >= 0 && excluded[i] == down; i-- {
		if down <= low {
			return 0, ErrExhaustedSampleSpace
		}
		down--
	}
	if down >= low && down < high {
		return down, nil
	}

	return 0, ErrExhaustedSampleSpace
}

// SortedInsert inserts v into the ascending slice s and returns the result.
// Values already present are not inserted twice.
func SortedInsert[T constraints.Ordered](s []T, v T) []T {
	i, found := slices.BinarySearch(s, v)
	if found {
		return s
	}
	return slices.Insert(s, i, v)
}

// Contains reports whether the ascending slice s holds v.
func Contains[T constraints.Ordered](s []T, v T) bool {
	_, found := slices.BinarySearch(s, v)
	return found
}
