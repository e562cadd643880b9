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
	"math/bits"

	"github.com/ajroetker/tensorgen/ast"
)

// maxProductFactors bounds the subset search of StrengthReduction.
const maxProductFactors = 16

// StrengthReduction rewrites every product of more than two factors into a
// tree of binary contractions and folds leaf scalars into the product's
// scalar. The tree must be deduced.
//
// The grouping is chosen by a dynamic program over factor subsets. It first
// minimises the number of pairwise products that cannot map to a GEMM (no
// shared index, or a shared index that is also kept), then the summed flop
// estimate, where a pairwise product costs the product of the sizes of all
// indices it touches. Each intermediate keeps exactly the indices still
// needed by the remaining factors or the result.
func StrengthReduction(n ast.Node) (ast.Node, error) {
	memo := make(map[ast.Node]ast.Node)
	return strengthReduce(n, memo)
}

func strengthReduce(n ast.Node, memo map[ast.Node]ast.Node) (ast.Node, error) {
	if out, ok := memo[n]; ok {
		return out, nil
	}
	children := make([]ast.Node, len(n.Children()))
	for i, c := range n.Children() {
		rc, err := strengthReduce(c, memo)
		if err != nil {
			return nil, err
		}
		children[i] = rc
	}

	var out ast.Node
	switch n := n.(type) {
	case *ast.Leaf, *ast.Add, *ast.Assignment, *ast.LoopOverGEMM:
		out = ast.WithChildren(n, children)
	case *ast.Contraction:
		reduced, err := reduceProduct(n, children)
		if err != nil {
			return nil, err
		}
		out = reduced
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
	memo[n] = out
	return out, nil
}

type productScore struct {
	infeasible int
	flops      int
}

func (s productScore) less(o productScore) bool {
	if s.infeasible != o.infeasible {
		return s.infeasible < o.infeasible
	}
	return s.flops < o.flops
}

func (s productScore) add(o productScore) productScore {
	return productScore{infeasible: s.infeasible + o.infeasible, flops: s.flops + o.flops}
}

func reduceProduct(c *ast.Contraction, ops []ast.Node) (ast.Node, error) {
	if len(ops) < 2 {
		return nil, fmt.Errorf("product %s needs at least two factors", c)
	}
	if len(ops) > maxProductFactors {
		return nil, fmt.Errorf("product %s has %d factors, at most %d are supported", c, len(ops), maxProductFactors)
	}

	alpha := c.Alpha
	for i, o := range ops {
		if l, ok := o.(*ast.Leaf); ok && l.Alpha != 1 {
			alpha *= l.Alpha
			cp := *l
			cp.Alpha = 1
			ops[i] = &cp
		}
	}
	if len(ops) == 2 {
		out := ast.WithChildren(c, ops).(*ast.Contraction)
		out.Alpha = alpha
		return out, nil
	}

	n := len(ops)
	full := uint(1)<<n - 1
	var all ast.Indices
	for _, o := range ops {
		var err error
		if all, err = union(all, o.Indices()); err != nil {
			return nil, err
		}
	}
	if !c.Indices().LessEq(all) {
		return nil, &ast.IndexError{Kind: ast.UnboundIndex,
			Detail: fmt.Sprintf("product %s cannot produce %s", c, c.Indices())}
	}

	// needed[S] holds the indices the partial product over subset S must keep.
	needed := make([]ast.Indices, full+1)
	for s := uint(1); s <= full; s++ {
		if s == full {
			needed[s] = c.Indices()
			continue
		}
		var in, outside ast.Indices
		for i, o := range ops {
			var err error
			if s&(1<<i) != 0 {
				in, err = union(in, o.Indices())
			} else {
				outside, err = union(outside, o.Indices())
			}
			if err != nil {
				return nil, err
			}
		}
		keep := func(r rune) bool { return c.Indices().Contains(r) || outside.Contains(r) }
		var names []rune
		for _, r := range in.Names() {
			if keep(r) {
				names = append(names, r)
			}
		}
		needed[s] = in.Select(names)
	}

	best := make([]productScore, full+1)
	split := make([]uint, full+1)
	for s := uint(1); s <= full; s++ {
		if bits.OnesCount(s) == 1 {
			continue
		}
		low := s & -s
		found := false
		for s1 := (s - 1) & s; s1 > 0; s1 = (s1 - 1) & s {
			if s1&low == 0 {
				continue
			}
			s2 := s ^ s1
			score := best[s1].add(best[s2]).add(pairScore(needed[s1], needed[s2], needed[s]))
			if !found || score.less(best[s]) {
				best[s], split[s], found = score, s1, true
			}
		}
	}

	var build func(s uint) ast.Node
	build = func(s uint) ast.Node {
		if bits.OnesCount(s) == 1 {
			return ops[bits.TrailingZeros(s)]
		}
		l, r := build(split[s]), build(s^split[s])
		node := &ast.Contraction{Operands: []ast.Node{l, r}, Alpha: 1}
		out := ast.WithIndices(node, needed[s])
		if l.EqSpp() != nil && r.EqSpp() != nil {
			out = ast.WithEqSpp(out, contractMasks(needed[s], []ast.Node{l, r}))
		}
		return out
	}
	root := build(full).(*ast.Contraction)
	root.Alpha = alpha
	if c.EqSpp() != nil {
		root = ast.WithEqSpp(root, c.EqSpp())
	}
	slog.Debug("strength reduction", "product", c.String(), "grouping", root.String(),
		"flops", best[full].flops, "infeasible", best[full].infeasible)
	return root, nil
}

// pairScore scores the product of partial results l and r producing out.
func pairScore(l, r, out ast.Indices) productScore {
	score := productScore{flops: 1}
	touched, err := union(l, r)
	if err != nil {
		return productScore{infeasible: 1}
	}
	for _, s := range touched.Shape() {
		score.flops *= s
	}
	shared := l.Intersect(r)
	lFree, rFree := l.Sub(r), r.Sub(l)
	switch {
	case len(shared) == 0, out.Len() == 0,
		lFree.Select(out.Names()).Len() == 0, rFree.Select(out.Names()).Len() == 0:
		score.infeasible = 1
	default:
		for _, x := range shared {
			if out.Contains(x) {
				score.infeasible = 1
				break
			}
		}
	}
	return score
}
