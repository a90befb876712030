// Package util contains misc internal utilities.
package util

import (
	"math"
	"sort"
	"time"
)

// Clamp limits x to the closed interval [lo, hi].  NaN maps to lo.
func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// SecsToDuration converts a floating point number of seconds to a time.Duration.
// e.g., 0.5 => 500ms
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// SortedKeys returns the keys of a string-keyed map in ascending order
func SortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UniqueString returns the unique elements of a slice, preserving first-seen order
func UniqueString(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
