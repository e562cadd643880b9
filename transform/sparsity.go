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

package transform

import (
	"fmt"

	"github.com/ajroetker/tensorgen/ast"
)

// EquivalentSparsityPattern annotates every node of a deduced tree with a
// conservative "may be nonzero" mask: leaves use their tensor's pattern,
// sums OR their terms and products evaluate the contraction in Boolean
// algebra. The masks never mark a possibly nonzero entry as zero.
func EquivalentSparsityPattern(n ast.Node) (ast.Node, error) {
	memo := make(map[ast.Node]ast.Node)
	return equivalentSpp(n, memo)
}

func equivalentSpp(n ast.Node, memo map[ast.Node]ast.Node) (ast.Node, error) {
	if out, ok := memo[n]; ok {
		return out, nil
	}
	children := make([]ast.Node, len(n.Children()))
	for i, c := range n.Children() {
		sc, err := equivalentSpp(c, memo)
		if err != nil {
			return nil, err
		}
		children[i] = sc
	}

	var mask *ast.Mask
	switch n := n.(type) {
	case *ast.Leaf:
		mask = n.Tensor.EffectiveSpp()
	case *ast.Add:
		mask = orMasks(n.Indices(), children)
	case *ast.Contraction:
		mask = contractMasks(n.Indices(), children)
	case *ast.Assignment:
		mask = alignMask(children[1].EqSpp(), children[1].Indices(), n.Indices())
	case *ast.LoopOverGEMM:
		mask = contractMasks(n.Indices(), children)
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
	if mask == nil {
		return nil, fmt.Errorf("%s: indices not deduced", n)
	}

	out := ast.WithEqSpp(ast.WithChildren(n, children), mask)
	memo[n] = out
	return out, nil
}

// mapping returns, for each index of from, its position in to.
func mapping(from, to ast.Indices) []int {
	m := make([]int, from.Len())
	for i, r := range from.Names() {
		m[i] = to.Find(r)
	}
	return m
}

// alignMask reorders mask, laid out as from, into the order of to.
func alignMask(mask *ast.Mask, from, to ast.Indices) *ast.Mask {
	if mask == nil {
		return nil
	}
	if from.Equal(to) {
		return mask
	}
	out := ast.NewMask(to.Shape(), false)
	m := mapping(from, to)
	src := make([]int, from.Len())
	ast.ForEachIndex(to.Shape(), func(pos []int) {
		for i, p := range m {
			src[i] = pos[p]
		}
		out.Set(pos, mask.At(src))
	})
	return out
}

// orMasks combines the term masks elementwise, matching indices by name.
func orMasks(result ast.Indices, terms []ast.Node) *ast.Mask {
	out := ast.NewMask(result.Shape(), false)
	for _, t := range terms {
		if t.EqSpp() == nil {
			return nil
		}
		m := mapping(t.Indices(), result)
		src := make([]int, len(m))
		ast.ForEachIndex(result.Shape(), func(pos []int) {
			if out.At(pos) {
				return
			}
			for i, p := range m {
				src[i] = pos[p]
			}
			if t.EqSpp().At(src) {
				out.Set(pos, true)
			}
		})
	}
	return out
}

// contractMasks evaluates the Boolean contraction of the operand masks: an
// output entry is true if for some setting of the summed indices every
// operand entry is true.
func contractMasks(result ast.Indices, operands []ast.Node) *ast.Mask {
	allTrue, anyFalse := true, false
	full := result
	for _, o := range operands {
		if o.EqSpp() == nil {
			return nil
		}
		if !o.EqSpp().All() {
			allTrue = false
		}
		if !o.EqSpp().Any() {
			anyFalse = true
		}
		var err error
		if full, err = full.Merged(o.Indices().Sub(full)); err != nil {
			return nil
		}
	}
	switch {
	case anyFalse:
		return ast.NewMask(result.Shape(), false)
	case allTrue:
		return ast.DenseMask(result.Shape())
	}

	out := ast.NewMask(result.Shape(), false)
	maps := make([][]int, len(operands))
	srcs := make([][]int, len(operands))
	for i, o := range operands {
		maps[i] = mapping(o.Indices(), full)
		srcs[i] = make([]int, o.Indices().Len())
	}
	nres := result.Len()
	ast.ForEachIndex(full.Shape(), func(pos []int) {
		res := pos[:nres]
		if out.At(res) {
			return
		}
		for i, o := range operands {
			for j, p := range maps[i] {
				srcs[i][j] = pos[p]
			}
			if !o.EqSpp().At(srcs[i]) {
				return
			}
		}
		out.Set(res, true)
	})
	return out
}
