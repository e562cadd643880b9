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

// Package ast provides the tensor expression model: index sets, tensors,
// sparsity masks, memory layouts and the sealed set of expression nodes that
// the transform passes rewrite.
package ast

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Indices is an ordered set of uniquely named dimensions, each bound to a
// positive size. Every index name is a single character.
//
// The order encodes memory and iteration order. Indices is a value type:
// every operation returns a new Indices and never modifies the receiver.
type Indices struct {
	names []rune
	size  map[rune]int
}

// NewIndices binds the characters of names to the sizes in shape.
func NewIndices(names string, shape []int) (Indices, error) {
	rs := []rune(names)
	if len(rs) != len(lo.Uniq(rs)) {
		return Indices{}, indexErrorf(DuplicateIndex, "repeated indices are not allowed (%s)", names)
	}
	if len(rs) != len(shape) {
		return Indices{}, indexErrorf(ShapeMismatch, "indices %s do not match tensor shape %v", names, shape)
	}
	size := make(map[rune]int, len(rs))
	for i, r := range rs {
		if shape[i] <= 0 {
			return Indices{}, indexErrorf(ShapeMismatch, "index %c has non-positive size %d", r, shape[i])
		}
		size[r] = shape[i]
	}
	return Indices{names: rs, size: size}, nil
}

// MustIndices is like NewIndices but panics on error. Use it for literals.
func MustIndices(names string, shape ...int) Indices {
	idx, err := NewIndices(names, shape)
	if err != nil {
		panic(err)
	}
	return idx
}

// String returns the index names in order, e.g. "ijk".
func (idx Indices) String() string {
	return string(idx.names)
}

// GoString renders names with sizes, e.g. "(i=4,k=6)".
func (idx Indices) GoString() string {
	parts := make([]string, len(idx.names))
	for i, r := range idx.names {
		parts[i] = fmt.Sprintf("%c=%d", r, idx.size[r])
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Names returns a copy of the ordered index names.
func (idx Indices) Names() []rune {
	return slices.Clone(idx.names)
}

// Len returns the number of indices.
func (idx Indices) Len() int {
	return len(idx.names)
}

// Shape returns the sizes in index order.
func (idx Indices) Shape() []int {
	return idx.SubShape(string(idx.names))
}

// SubShape returns the sizes of the requested names, in the requested order.
// It panics if a name is not part of idx.
func (idx Indices) SubShape(names string) []int {
	shape := make([]int, 0, len(names))
	for _, r := range names {
		s, ok := idx.size[r]
		if !ok {
			panic(fmt.Sprintf("index %c not in %s", r, idx))
		}
		shape = append(shape, s)
	}
	return shape
}

// Size returns the size bound to name, or 0 if name is absent.
func (idx Indices) Size(name rune) int {
	return idx.size[name]
}

// NumElements returns the product of all sizes (1 for an empty set).
func (idx Indices) NumElements() int {
	n := 1
	for _, r := range idx.names {
		n *= idx.size[r]
	}
	return n
}

// Find returns the position of name, or -1.
func (idx Indices) Find(name rune) int {
	return slices.Index(idx.names, name)
}

// Contains reports whether name is one of the indices.
func (idx Indices) Contains(name rune) bool {
	_, ok := idx.size[name]
	return ok
}

// First returns the single-index set holding the leading index.
func (idx Indices) First() Indices {
	if len(idx.names) == 0 {
		return Indices{}
	}
	r := idx.names[0]
	return Indices{names: []rune{r}, size: map[rune]int{r: idx.size[r]}}
}

// LessEq reports whether every name of idx is in other with the same size.
// A size mismatch on a shared name is not a subset.
func (idx Indices) LessEq(other Indices) bool {
	for _, r := range idx.names {
		s, ok := other.size[r]
		if !ok || s != idx.size[r] {
			return false
		}
	}
	return true
}

// SameSet reports whether both sets hold the same names bound to the same
// sizes, irrespective of order.
func (idx Indices) SameSet(other Indices) bool {
	return len(idx.names) == len(other.names) && idx.LessEq(other)
}

// Equal reports whether both sets have the same names in the same order with
// the same sizes.
func (idx Indices) Equal(other Indices) bool {
	return slices.Equal(idx.names, other.names) && idx.LessEq(other)
}

// Intersect returns the names present in both sets, in the order of idx.
func (idx Indices) Intersect(other Indices) []rune {
	return lo.Filter(idx.names, func(r rune, _ int) bool { return other.Contains(r) })
}

// Sub returns idx without the names present in other, keeping idx's order.
func (idx Indices) Sub(other Indices) Indices {
	return idx.Select(lo.Without(idx.names, other.names...))
}

// Select returns the sub-set holding names, in the given order. Names not in
// idx are skipped.
func (idx Indices) Select(names []rune) Indices {
	out := Indices{size: make(map[rune]int, len(names))}
	for _, r := range names {
		if s, ok := idx.size[r]; ok {
			out.names = append(out.names, r)
			out.size[r] = s
		}
	}
	return out
}

// Merged concatenates idx and other. The sets must be disjoint.
func (idx Indices) Merged(other Indices) (Indices, error) {
	names := string(idx.names) + string(other.names)
	shape := append(idx.Shape(), other.Shape()...)
	return NewIndices(names, shape)
}

// Sorted returns the indices in lexicographic order of their names.
func (idx Indices) Sorted() Indices {
	names := slices.Clone(idx.names)
	slices.Sort(names)
	return idx.Select(names)
}

// Permuted returns the same indices reordered as order. order must contain
// exactly the names of idx.
func (idx Indices) Permuted(order string) (Indices, error) {
	rs := []rune(order)
	if len(rs) != len(idx.names) || len(lo.Uniq(rs)) != len(rs) || !lo.Every(idx.names, rs) {
		return Indices{}, indexErrorf(BadPermutation, "%s is not a permutation of %s", order, idx)
	}
	return idx.Select(rs), nil
}
