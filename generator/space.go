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

package generator

import (
	"slices"

	"github.com/ajroetker/tensorgen/ast"
)

// ParameterSpace enumerates the parameter tuples of a kernel family.
type ParameterSpace interface {
	// Dims returns the extent of each parameter.
	Dims() []int

	// Points returns the parameter tuples to instantiate, in row-major
	// order.
	Points() [][]int
}

type simpleSpace struct {
	dims []int
}

// SimpleParameterSpace is the full Cartesian product of 0..dims[i]-1.
func SimpleParameterSpace(dims ...int) ParameterSpace {
	return simpleSpace{dims: slices.Clone(dims)}
}

func (s simpleSpace) Dims() []int { return slices.Clone(s.dims) }

func (s simpleSpace) Points() [][]int {
	var out [][]int
	rev := slices.Clone(s.dims)
	slices.Reverse(rev)
	ast.ForEachIndex(rev, func(pos []int) {
		p := slices.Clone(pos)
		slices.Reverse(p)
		out = append(out, p)
	})
	return out
}

type filteredSpace struct {
	ParameterSpace
	keep func(params []int) bool
}

// FilteredParameterSpace keeps the points of space for which keep returns
// true. Dropped members have no implementation in the generated family.
func FilteredParameterSpace(space ParameterSpace, keep func(params []int) bool) ParameterSpace {
	return filteredSpace{ParameterSpace: space, keep: keep}
}

func (s filteredSpace) Points() [][]int {
	var out [][]int
	for _, p := range s.ParameterSpace.Points() {
		if s.keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func linear(dims, params []int) int {
	lin := 0
	for d, p := range params {
		lin = lin*dims[d] + p
	}
	return lin
}

func size(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
