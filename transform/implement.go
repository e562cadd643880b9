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
	"log/slog"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/ast/loggemm"
)

// ImplementContractions replaces every binary contraction by the cheapest
// ast.LoopOverGEMM for the operand and result orders already in the tree.
// The contractions are taken from FindContractions and searched front to
// back, so each one is planned after the contractions producing its
// operands.
//
// Assignments are normalised for emission: a term that is the left-hand side
// itself is removed and turns the assignment into an accumulation. The
// first remaining term then uses β = 0 unless accumulating; later terms and
// accumulations use β = 1. Intermediate results always use β = 0.
func ImplementContractions(n ast.Node, s *loggemm.Searcher) (ast.Node, error) {
	worklist, err := FindContractions(n)
	if err != nil {
		return nil, err
	}
	im := &implementer{searcher: s, memo: make(map[ast.Node]ast.Node)}
	for _, c := range worklist {
		if err := im.contraction(c); err != nil {
			return nil, err
		}
	}
	return im.rebuild(n), nil
}

type implementer struct {
	searcher *loggemm.Searcher
	memo     map[ast.Node]ast.Node
}

// contraction plans c. The contractions among its operands must already be
// planned.
func (im *implementer) contraction(c *ast.Contraction) error {
	d, err := c.Descriptor()
	if err != nil {
		return err
	}
	d.Left, d.Right = im.rebuild(d.Left), im.rebuild(d.Right)
	plan, cost := im.searcher.Search(d, loggemm.Permutation{})
	if plan == nil {
		return fmt.Errorf("contraction %s -> %s (summing %s): %w", c, d.Result, d.Bound, ast.ErrInfeasible)
	}
	plan.Alpha = c.Alpha
	slog.Debug("implemented contraction", "contraction", c.String(), "result", d.Result.String(), "bound", d.Bound.String(),
		"m", plan.M, "n", plan.N, "k", plan.K, "transA", plan.TransA, "transB", plan.TransB, "cost", cost)
	im.memo[c] = ast.WithEqSpp(plan, c.EqSpp())
	return nil
}

// rebuild returns n with every contraction replaced by its plan.
func (im *implementer) rebuild(n ast.Node) ast.Node {
	if out, ok := im.memo[n]; ok {
		return out
	}
	var out ast.Node
	switch n := n.(type) {
	case *ast.Contraction:
		panic(fmt.Sprintf("contraction %s was not planned", n))
	case *ast.Leaf, *ast.Add, *ast.LoopOverGEMM, *ast.Assignment:
		children := make([]ast.Node, len(n.Children()))
		for i, c := range n.Children() {
			children[i] = im.rebuild(c)
		}
		out = ast.WithChildren(n, children)
		if a, ok := out.(*ast.Assignment); ok {
			out = normalizeAssignment(a)
		}
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
	im.memo[n] = out
	return out
}

// Terms returns the summands of an assignment's right-hand side.
func Terms(a *ast.Assignment) []ast.Node {
	if add, ok := a.RHS.(*ast.Add); ok {
		return add.Terms
	}
	return []ast.Node{a.RHS}
}

// IsSelfReference reports whether t is the assignment's left-hand side
// read back unchanged.
func IsSelfReference(a *ast.Assignment, t ast.Node) bool {
	l, ok := t.(*ast.Leaf)
	return ok && l.Tensor == a.LHS.Tensor && l.IndexNames == a.LHS.IndexNames && l.Alpha == 1
}

func normalizeAssignment(a *ast.Assignment) *ast.Assignment {
	terms := Terms(a)
	accumulate := a.Accumulate
	var kept []ast.Node
	for _, t := range terms {
		if len(terms) > 1 && IsSelfReference(a, t) {
			accumulate = true
			continue
		}
		kept = append(kept, t)
	}
	for i, t := range kept {
		if g, ok := t.(*ast.LoopOverGEMM); ok {
			g = ast.WithChildren(g, g.Children()).(*ast.LoopOverGEMM)
			g.Beta = 0
			if accumulate || i > 0 {
				g.Beta = 1
			}
			kept[i] = g
		}
	}

	out := ast.WithChildren(a, a.Children()).(*ast.Assignment)
	out.Accumulate = accumulate
	if len(kept) == 1 {
		out.RHS = kept[0]
	} else {
		out.RHS = ast.WithChildren(a.RHS, kept)
	}
	return out
}

// LoopOverGEMMs lists the loop-over-GEMM nodes of a tree in execution order.
func LoopOverGEMMs(n ast.Node) []*ast.LoopOverGEMM {
	var out []*ast.LoopOverGEMM
	seen := make(map[ast.Node]bool)
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.Children() {
			walk(c)
		}
		if g, ok := n.(*ast.LoopOverGEMM); ok {
			out = append(out, g)
		}
	}
	walk(n)
	return out
}

// ReadsTarget reports whether the right-hand side of a reads the tensor it
// writes in a way that needs a temporary. A right-hand side that is the
// target leaf under the same index names is an element-wise scale and does
// not; any other read of the target does.
func ReadsTarget(a *ast.Assignment) bool {
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
