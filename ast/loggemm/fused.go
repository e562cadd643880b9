// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loggemm

import "slices"

// allSubstrings returns every contiguous substring of s ordered by start,
// then by length.
func allSubstrings(s []rune) []string {
	var out []string
	for i := range s {
		for j := i; j < len(s); j++ {
			out = append(out, string(s[i:j+1]))
		}
	}
	return out
}

// splitByDistance splits sorted positions into runs of consecutive values.
func splitByDistance(p []int) [][]int {
	var groups [][]int
	start := 0
	for i := 1; i <= len(p); i++ {
		if i == len(p) || p[i]-p[i-1] != 1 {
			groups = append(groups, p[start:i])
			start = i
		}
	}
	return groups
}

// variantKey identifies one fused-variant enumeration.
type variantKey struct {
	set, in string
	prune   bool
}

// fusedVariants returns the index groups that can act as one fused
// dimension: every contiguous run of positions in s whose names are all in
// set. With prune, only groups starting at position 0 of s are kept.
// The result is ordered by start position, then length, without duplicates.
func (s *Searcher) fusedVariants(set []rune, in []rune, prune bool) []string {
	key := variantKey{set: string(set), in: string(in), prune: prune}
	if v, ok := s.variants[key]; ok {
		return v
	}

	var pos []int
	for p, r := range in {
		if slices.Contains(set, r) {
			pos = append(pos, p)
		}
	}
	var out []string
	if len(pos) > 0 {
		for _, g := range splitByDistance(pos) {
			for _, sub := range allSubstrings(in[g[0] : g[len(g)-1]+1]) {
				if prune && []rune(sub)[0] != in[0] {
					continue
				}
				if !slices.Contains(out, sub) {
					out = append(out, sub)
				}
			}
		}
	}
	s.variants[key] = out
	return out
}

// intersect keeps the strings of a that also occur in b, in a's order.
func intersect(a, b []string) []string {
	var out []string
	for _, x := range a {
		if slices.Contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}
