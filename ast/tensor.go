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

// Tensor is a named dense array with a fixed shape and an optional sparsity
// mask. Tensors are immutable once declared.
type Tensor struct {
	base  string
	group []int
	dims  []int
	shape []int
	spp   *Mask
}

// NewTensor declares a tensor. spp may be nil for a dense tensor; otherwise
// it must have the same shape.
func NewTensor(name string, shape []int, spp *Mask) (*Tensor, error) {
	return newTensor(name, nil, nil, shape, spp)
}

// MustTensor is like NewTensor but panics on error.
func MustTensor(name string, shape []int, spp *Mask) *Tensor {
	t, err := NewTensor(name, shape, spp)
	if err != nil {
		panic(err)
	}
	return t
}

func newTensor(name string, group, dims, shape []int, spp *Mask) (*Tensor, error) {
	if name == "" {
		return nil, fmt.Errorf("tensor name must not be empty")
	}
	for _, s := range shape {
		if s <= 0 {
			return nil, fmt.Errorf("tensor %s: shape %v must be positive", name, shape)
		}
	}
	if spp != nil && !slices.Equal(spp.shape, shape) {
		return nil, fmt.Errorf("tensor %s: sparsity pattern shape %v does not match %v", name, spp.shape, shape)
	}
	return &Tensor{base: name, group: slices.Clone(group), dims: dims, shape: slices.Clone(shape), spp: spp}, nil
}

// Name returns the full tensor name; family members are named like
// "AplusT[2]" or "fP[1][0]".
func (t *Tensor) Name() string {
	if len(t.group) == 0 {
		return t.base
	}
	var sb strings.Builder
	sb.WriteString(t.base)
	for _, g := range t.group {
		fmt.Fprintf(&sb, "[%d]", g)
	}
	return sb.String()
}

// BaseName returns the name without family coordinates.
func (t *Tensor) BaseName() string {
	return t.base
}

// Group returns the family coordinates, or nil for a standalone tensor.
func (t *Tensor) Group() []int {
	return slices.Clone(t.group)
}

// FamilySize returns the number of members of the tensor's family, 0 for a
// standalone tensor.
func (t *Tensor) FamilySize() int {
	if len(t.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// FamilyIndex returns the row-major member number within the family.
func (t *Tensor) FamilyIndex() int {
	lin := 0
	for d, g := range t.group {
		lin = lin*t.dims[d] + g
	}
	return lin
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// Spp returns the declared sparsity pattern, nil if the tensor is dense.
func (t *Tensor) Spp() *Mask {
	return t.spp
}

// EffectiveSpp returns the declared sparsity pattern or an all-true mask.
func (t *Tensor) EffectiveSpp() *Mask {
	if t.spp == nil {
		return DenseMask(t.shape)
	}
	return t.spp
}

// At references the tensor with the given index names, one character per
// dimension, e.g. Q.At("kp").
func (t *Tensor) At(indexNames string) *Leaf {
	return &Leaf{Tensor: t, IndexNames: indexNames, Alpha: 1}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.Name(), t.shape)
}

// TensorFamily is a group of same-shaped tensors addressed by small integer
// coordinates, e.g. one flux matrix per face.
type TensorFamily struct {
	name    string
	dims    []int
	members []*Tensor
}

// NewTensorFamily declares one tensor per coordinate of dims. sppFor, if not
// nil, supplies each member's sparsity pattern (nil for dense).
func NewTensorFamily(name string, dims, shape []int, sppFor func(group []int) *Mask) (*TensorFamily, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("tensor family %s: no dimensions", name)
	}
	f := &TensorFamily{name: name, dims: slices.Clone(dims)}
	var err error
	forEachRowMajor(dims, func(group []int) {
		if err != nil {
			return
		}
		var spp *Mask
		if sppFor != nil {
			spp = sppFor(group)
		}
		var t *Tensor
		t, err = newTensor(name, group, f.dims, shape, spp)
		f.members = append(f.members, t)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Name returns the family base name.
func (f *TensorFamily) Name() string {
	return f.name
}

// Dims returns the family extent per coordinate.
func (f *TensorFamily) Dims() []int {
	return slices.Clone(f.dims)
}

// Members returns all tensors in row-major coordinate order.
func (f *TensorFamily) Members() []*Tensor {
	return slices.Clone(f.members)
}

// At returns the member at the given coordinates. It panics when the
// coordinates are out of range.
func (f *TensorFamily) At(group ...int) *Tensor {
	return f.members[f.Linear(group)]
}

// Linear maps coordinates to a row-major member number.
func (f *TensorFamily) Linear(group []int) int {
	if len(group) != len(f.dims) {
		panic(fmt.Sprintf("tensor family %s: got %d coordinates, want %d", f.name, len(group), len(f.dims)))
	}
	lin := 0
	for d, g := range group {
		if g < 0 || g >= f.dims[d] {
			panic(fmt.Sprintf("tensor family %s: coordinate %v out of range %v", f.name, group, f.dims))
		}
		lin = lin*f.dims[d] + g
	}
	return lin
}

// forEachRowMajor visits coordinates with the last dimension fastest.
func forEachRowMajor(dims []int, fn func(pos []int)) {
	rev := slices.Clone(dims)
	slices.Reverse(rev)
	ForEachIndex(rev, func(pos []int) {
		p := slices.Clone(pos)
		slices.Reverse(p)
		fn(p)
	})
}
