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

package ast

import (
	"fmt"
	"slices"
	"strings"
)

// Mask is a boolean tensor marking positions that may be nonzero. Data is
// stored column-major: the first dimension varies fastest.
type Mask struct {
	shape []int
	data  []bool
}

// NewMask returns a mask of the given shape with every entry set to fill.
func NewMask(shape []int, fill bool) *Mask {
	n := 1
	for _, s := range shape {
		n *= s
	}
	m := &Mask{shape: slices.Clone(shape), data: make([]bool, n)}
	if fill {
		for i := range m.data {
			m.data[i] = true
		}
	}
	return m
}

// DenseMask is a mask with every position possibly nonzero.
func DenseMask(shape []int) *Mask {
	return NewMask(shape, true)
}

// MaskFromNonzeros builds a mask that is true exactly at the listed
// coordinates.
func MaskFromNonzeros(shape []int, nonzeros [][]int) (*Mask, error) {
	m := NewMask(shape, false)
	for _, pos := range nonzeros {
		if len(pos) != len(shape) {
			return nil, fmt.Errorf("nonzero %v has rank %d, want %d", pos, len(pos), len(shape))
		}
		for d, p := range pos {
			if p < 0 || p >= shape[d] {
				return nil, fmt.Errorf("nonzero %v out of bounds for shape %v", pos, shape)
			}
		}
		m.Set(pos, true)
	}
	return m, nil
}

// Shape returns a copy of the mask's shape.
func (m *Mask) Shape() []int {
	return slices.Clone(m.shape)
}

func (m *Mask) offset(pos []int) int {
	off, stride := 0, 1
	for d, p := range pos {
		off += p * stride
		stride *= m.shape[d]
	}
	return off
}

// At returns the entry at pos.
func (m *Mask) At(pos []int) bool {
	return m.data[m.offset(pos)]
}

// Set stores v at pos.
func (m *Mask) Set(pos []int, v bool) {
	m.data[m.offset(pos)] = v
}

// All reports whether every entry is true.
func (m *Mask) All() bool {
	return !slices.Contains(m.data, false)
}

// Any reports whether some entry is true.
func (m *Mask) Any() bool {
	return slices.Contains(m.data, true)
}

// Count returns the number of true entries.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.data {
		if v {
			n++
		}
	}
	return n
}

// Equal reports whether both masks have the same shape and entries.
func (m *Mask) Equal(o *Mask) bool {
	return slices.Equal(m.shape, o.shape) && slices.Equal(m.data, o.data)
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	return &Mask{shape: slices.Clone(m.shape), data: slices.Clone(m.data)}
}

// String renders the mask as rows of 'x' (may be nonzero) and '.' (zero).
// Rank-2 masks print as a matrix; higher ranks print one matrix per trailing
// coordinate.
func (m *Mask) String() string {
	var sb strings.Builder
	switch len(m.shape) {
	case 0:
		sb.WriteString(mark(m.data[0]))
		sb.WriteByte('\n')
	case 1:
		for i := range m.shape[0] {
			sb.WriteString(mark(m.At([]int{i})))
		}
		sb.WriteByte('\n')
	default:
		rows, cols := m.shape[0], m.shape[1]
		ForEachIndex(m.shape[2:], func(rest []int) {
			if len(rest) > 0 {
				fmt.Fprintf(&sb, "[:, :, %s]\n", joinInts(rest))
			}
			pos := make([]int, len(m.shape))
			copy(pos[2:], rest)
			for i := range rows {
				pos[0] = i
				for j := range cols {
					pos[1] = j
					sb.WriteString(mark(m.At(pos)))
				}
				sb.WriteByte('\n')
			}
		})
	}
	return sb.String()
}

func mark(v bool) string {
	if v {
		return "x"
	}
	return "."
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}

// ForEachIndex calls fn for every coordinate of shape, first dimension
// fastest. fn must not retain pos. A rank-0 shape yields one empty
// coordinate; a shape with a zero extent yields none.
func ForEachIndex(shape []int, fn func(pos []int)) {
	for _, s := range shape {
		if s <= 0 {
			return
		}
	}
	pos := make([]int, len(shape))
	for {
		fn(pos)
		d := 0
		for ; d < len(shape); d++ {
			pos[d]++
			if pos[d] < shape[d] {
				break
			}
			pos[d] = 0
		}
		if d == len(shape) {
			return
		}
	}
}
