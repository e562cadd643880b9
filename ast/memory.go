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

// MemoryLayout is the dense column-major layout of an index set: the first
// index has unit stride and each following stride is the previous stride
// times the previous size.
type MemoryLayout struct {
	indices Indices
	strides []int
	size    int
}

// NewMemoryLayout returns the dense layout of idx.
func NewMemoryLayout(idx Indices) MemoryLayout {
	strides := make([]int, idx.Len())
	stride := 1
	for i, s := range idx.Shape() {
		strides[i] = stride
		stride *= s
	}
	return MemoryLayout{indices: idx, strides: strides, size: stride}
}

// Indices returns the laid out index set.
func (l MemoryLayout) Indices() Indices {
	return l.indices
}

// Stridei returns the stride of the index at position pos.
func (l MemoryLayout) Stridei(pos int) int {
	if pos >= len(l.strides) {
		return l.size
	}
	return l.strides[pos]
}

// Stride returns the stride of the named index. It panics if name is absent.
func (l MemoryLayout) Stride(name rune) int {
	pos := l.indices.Find(name)
	if pos < 0 {
		panic("index " + string(name) + " not in layout " + l.indices.String())
	}
	return l.strides[pos]
}

// NumElements returns the number of elements the layout spans.
func (l MemoryLayout) NumElements() int {
	return l.size
}

// Address returns the linear offset of the given index values. Missing
// names count as 0.
func (l MemoryLayout) Address(offsets map[rune]int) int {
	addr := 0
	for i, r := range l.indices.names {
		addr += offsets[r] * l.strides[i]
	}
	return addr
}
