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

// Package refgemm evaluates tensor expressions on dense Go slices. It is the
// numerical reference for compiled plans: Evaluate runs an implemented tree
// block by block the way the emitted code does, Naive evaluates any deduced
// tree entry by entry.
package refgemm

import (
	"fmt"

	"github.com/ajroetker/tensorgen/ast"
)

// Float is the element type constraint.
type Float interface {
	~float32 | ~float64
}

// Matrix is a strided view of a slice: element (r, c) is at
// Data[Offset + r*RowStride + c*ColStride].
type Matrix[T Float] struct {
	Data      []T
	Offset    int
	RowStride int
	ColStride int
}

func (m Matrix[T]) at(r, c int) *T {
	return &m.Data[m.Offset+r*m.RowStride+c*m.ColStride]
}

// Gemm computes C = alpha*A*B + beta*C for an m×k matrix A and a k×n
// matrix B. With beta = 0 the prior contents of C are ignored.
func Gemm[T Float](m, n, k int, alpha T, a, b Matrix[T], beta T, c Matrix[T]) {
	for j := range n {
		for i := range m {
			cij := c.at(i, j)
			if beta == 0 {
				*cij = 0
			} else {
				*cij *= beta
			}
		}
	}
	for j := range n {
		for p := range k {
			bpj := alpha * *b.at(p, j)
			for i := range m {
				*c.at(i, j) += *a.at(i, p) * bpj
			}
		}
	}
}

// Values maps tensors to their column-major contents.
type Values map[*ast.Tensor][]float64

// Alloc returns zeroed storage for every tensor in ts.
func Alloc(ts ...*ast.Tensor) Values {
	v := make(Values)
	for _, t := range ts {
		n := 1
		for _, s := range t.Shape() {
			n *= s
		}
		v[t] = make([]float64, n)
	}
	return v
}

func (v Values) get(t *ast.Tensor) ([]float64, error) {
	data, ok := v[t]
	if !ok {
		return nil, fmt.Errorf("no values for tensor %s", t.Name())
	}
	return data, nil
}

type buffer struct {
	data   []float64
	layout ast.MemoryLayout
}

// Evaluate executes an implemented assignment, one GEMM per loop-over-GEMM
// block, updating the left-hand side in v.
func Evaluate(a *ast.Assignment, v Values) error {
	data, err := v.get(a.LHS.Tensor)
	if err != nil {
		return err
	}
	dst := buffer{data: data, layout: ast.NewMemoryLayout(a.LHS.Indices())}
	beta := 0.0
	if a.Accumulate {
		beta = 1
	}
	if readsTarget(a) {
		tmp := buffer{data: make([]float64, dst.layout.NumElements()), layout: dst.layout}
		if err := into(a.RHS, tmp, 0, v); err != nil {
			return err
		}
		for i, x := range tmp.data {
			dst.data[i] = beta*dst.data[i] + x
		}
		return nil
	}
	terms := []ast.Node{a.RHS}
	if add, ok := a.RHS.(*ast.Add); ok {
		terms = add.Terms
	}
	for _, t := range terms {
		if err := into(t, dst, beta, v); err != nil {
			return err
		}
		beta = 1
	}
	return nil
}

func into(n ast.Node, dst buffer, beta float64, v Values) error {
	switch n := n.(type) {
	case *ast.Leaf:
		src, err := v.get(n.Tensor)
		if err != nil {
			return err
		}
		ls := ast.NewMemoryLayout(n.Indices())
		forEach(dst.layout.Indices(), func(pos map[rune]int) {
			d := &dst.data[dst.layout.Address(pos)]
			*d = beta**d + n.Alpha*src[ls.Address(pos)]
		})
		return nil
	case *ast.Add:
		for i, t := range n.Terms {
			b := beta
			if i > 0 {
				b = 1
			}
			if err := into(t, dst, b, v); err != nil {
				return err
			}
		}
		return nil
	case *ast.LoopOverGEMM:
		return loopOverGEMM(n, dst, beta, v)
	default:
		return fmt.Errorf("cannot evaluate %T", n)
	}
}

func operand(n ast.Node, v Values) (buffer, float64, error) {
	if l, ok := n.(*ast.Leaf); ok {
		data, err := v.get(l.Tensor)
		return buffer{data: data, layout: ast.NewMemoryLayout(l.Indices())}, l.Alpha, err
	}
	layout := ast.NewMemoryLayout(n.Indices())
	tmp := buffer{data: make([]float64, layout.NumElements()), layout: layout}
	return tmp, 1, into(n, tmp, 0, v)
}

func loopOverGEMM(g *ast.LoopOverGEMM, dst buffer, beta float64, v Values) error {
	a, alphaA, err := operand(g.Left, v)
	if err != nil {
		return err
	}
	b, alphaB, err := operand(g.Right, v)
	if err != nil {
		return err
	}
	if g.HasSummedLoops() && beta == 0 {
		clear(dst.data[:dst.layout.NumElements()])
		beta = 1
	}
	m0, n0, k0 := []rune(g.M)[0], []rune(g.N)[0], []rune(g.K)[0]
	ma := Matrix[float64]{Data: a.data, RowStride: a.layout.Stride(m0), ColStride: a.layout.Stride(k0)}
	mb := Matrix[float64]{Data: b.data, RowStride: b.layout.Stride(k0), ColStride: b.layout.Stride(n0)}
	mc := Matrix[float64]{Data: dst.data, RowStride: dst.layout.Stride(m0), ColStride: dst.layout.Stride(n0)}
	alpha := g.Alpha * alphaA * alphaB

	sizes := make([]int, len(g.Loops))
	for i, l := range g.Loops {
		sizes[i] = l.Size
	}
	pos := make(map[rune]int, len(g.Loops))
	ast.ForEachIndex(sizes, func(p []int) {
		for i, l := range g.Loops {
			pos[l.Index] = p[i]
		}
		ma.Offset = address(a.layout, pos)
		mb.Offset = address(b.layout, pos)
		mc.Offset = address(dst.layout, pos)
		Gemm(g.Shape.M, g.Shape.N, g.Shape.K, alpha, ma, mb, beta, mc)
	})
	return nil
}

// address is MemoryLayout.Address restricted to the layout's own indices.
func address(l ast.MemoryLayout, pos map[rune]int) int {
	addr := 0
	for i, r := range l.Indices().Names() {
		addr += pos[r] * l.Stridei(i)
	}
	return addr
}

// forEach visits every coordinate of idx as a name to value map. fn must
// not retain the map.
func forEach(idx ast.Indices, fn func(pos map[rune]int)) {
	names := idx.Names()
	pos := make(map[rune]int, len(names))
	ast.ForEachIndex(idx.Shape(), func(p []int) {
		for i, r := range names {
			pos[r] = p[i]
		}
		fn(pos)
	})
}

func readsTarget(a *ast.Assignment) bool {
	if l, ok := a.RHS.(*ast.Leaf); ok {
		return l.Tensor == a.LHS.Tensor && l.IndexNames != a.LHS.IndexNames
	}
	var reads func(ast.Node) bool
	reads = func(n ast.Node) bool {
		if l, ok := n.(*ast.Leaf); ok {
			return l.Tensor == a.LHS.Tensor
		}
		for _, c := range n.Children() {
			if reads(c) {
				return true
			}
		}
		return false
	}
	return reads(a.RHS)
}
