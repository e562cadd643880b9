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
	"github.com/ajroetker/tensorgen/ast"
)

// maxFlopCountElements bounds the iteration space NonzeroFlops enumerates;
// larger contractions report their dense count.
const maxFlopCountElements = 1 << 24

// NonzeroFlops counts the operations of g that touch possibly nonzero
// operand entries: one multiply and one add per nonzero product, minus one
// add per result entry that is overwritten rather than accumulated.
func NonzeroFlops(g *ast.LoopOverGEMM) int {
	a, b, c := g.Left.Indices(), g.Right.Indices(), g.Indices()
	all, err := c.Merged(a.Sub(c))
	if err == nil {
		all, err = all.Merged(b.Sub(all))
	}
	if err != nil || all.NumElements() > maxFlopCountElements {
		return g.Flops()
	}
	sa, sb := sppOf(g.Left), sppOf(g.Right)
	pa, pb, pc := positions(all, a), positions(all, b), positions(all, c)

	products := 0
	written := make(map[int]bool)
	lc := ast.NewMemoryLayout(c)
	posA, posB := make([]int, a.Len()), make([]int, b.Len())
	ast.ForEachIndex(all.Shape(), func(pos []int) {
		gather(posA, pos, pa)
		gather(posB, pos, pb)
		if !sa.At(posA) || !sb.At(posB) {
			return
		}
		products++
		addr := 0
		for i, p := range pc {
			addr += pos[p] * lc.Stridei(i)
		}
		written[addr] = true
	})
	flops := 2 * products
	if g.Beta == 0 && !g.HasSummedLoops() {
		flops -= len(written)
	}
	return flops
}

func sppOf(n ast.Node) *ast.Mask {
	if m := n.EqSpp(); m != nil {
		return m
	}
	return ast.DenseMask(n.Indices().Shape())
}

// positions maps each index of sub to its position in all.
func positions(all, sub ast.Indices) []int {
	out := make([]int, sub.Len())
	for i, r := range sub.Names() {
		out[i] = all.Find(r)
	}
	return out
}

func gather(dst, pos, from []int) {
	for i, p := range from {
		dst[i] = pos[p]
	}
}

// AssignmentNonzeroFlops sums NonzeroFlops over the loop-over-GEMMs of an
// implemented assignment and adds one operation per nonzero for every leaf
// term that is added or scaled.
func AssignmentNonzeroFlops(a *ast.Assignment) int {
	flops := 0
	seen := make(map[ast.Node]bool)
	var walk func(n ast.Node, accumulate bool)
	walk = func(n ast.Node, accumulate bool) {
		if seen[n] {
			return
		}
		seen[n] = true
		switch n := n.(type) {
		case *ast.LoopOverGEMM:
			flops += NonzeroFlops(n)
			walk(n.Left, false)
			walk(n.Right, false)
		case *ast.Add:
			for i, t := range n.Terms {
				walk(t, accumulate || i > 0)
			}
		case *ast.Leaf:
			nnz := sppOf(n).Count()
			if accumulate {
				flops += nnz
			}
			if n.Alpha != 1 {
				flops += nnz
			}
		}
	}
	walk(a.RHS, a.Accumulate)
	return flops
}
