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

// Package transform implements the passes that turn a declared tensor
// equation into loop-over-GEMM execution nodes:
//
//  1. DeduceIndices assigns every node its output index set.
//  2. EquivalentSparsityPattern propagates "may be nonzero" masks.
//  3. StrengthReduction rewrites n-ary products into binary contractions.
//  4. FindContractions collects the binary contractions bottom-up.
//  5. FindIndexPermutations / SelectIndexPermutations choose the memory
//     order of every intermediate result.
//  6. ImplementContractions freezes each contraction into an
//     ast.LoopOverGEMM.
//
// Every pass returns a new tree. Input nodes are never modified, so subtrees
// may be shared between equations.
package transform

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/ajroetker/tensorgen/ast"
)

type deduceKey struct {
	node   ast.Node
	target string
}

type deducer struct {
	memo map[deduceKey]ast.Node
}

// DeduceIndices annotates every node of n with its output index set. If n is
// an *ast.Assignment the declared left-hand side fixes the result; other
// roots keep every index they produce, in order of first appearance.
func DeduceIndices(n ast.Node) (ast.Node, error) {
	d := &deducer{memo: make(map[deduceKey]ast.Node)}
	if _, ok := n.(*ast.Assignment); ok {
		return d.deduce(n, ast.Indices{})
	}
	avail, err := d.available(n)
	if err != nil {
		return nil, err
	}
	return d.deduce(n, avail)
}

// DeduceIndicesWithTarget deduces an expression that will be assigned to an
// index set target, without an enclosing assignment.
func DeduceIndicesWithTarget(n ast.Node, target ast.Indices) (ast.Node, error) {
	d := &deducer{memo: make(map[deduceKey]ast.Node)}
	out, err := d.deduce(n, target)
	if err != nil {
		return nil, err
	}
	if err := checkRealizable(target, out.Indices()); err != nil {
		return nil, err
	}
	return out, nil
}

func leafIndices(l *ast.Leaf) (ast.Indices, error) {
	idx, err := ast.NewIndices(l.IndexNames, l.Tensor.Shape())
	if err != nil {
		return ast.Indices{}, fmt.Errorf("%s: %w", l, err)
	}
	return idx, nil
}

// available returns the indices a subtree can produce: the union of its
// leaves' indices in order of first appearance.
func (d *deducer) available(n ast.Node) (ast.Indices, error) {
	switch n := n.(type) {
	case *ast.Leaf:
		return leafIndices(n)
	case *ast.Add:
		if len(n.Terms) == 0 {
			return ast.Indices{}, nil
		}
		return d.available(n.Terms[0])
	case *ast.Contraction:
		var acc ast.Indices
		for _, o := range n.Operands {
			oi, err := d.available(o)
			if err != nil {
				return ast.Indices{}, err
			}
			if acc, err = union(acc, oi); err != nil {
				return ast.Indices{}, err
			}
		}
		return acc, nil
	case *ast.Assignment:
		return leafIndices(n.LHS)
	case *ast.LoopOverGEMM:
		return n.Indices(), nil
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
}

// union appends the names of b missing from a. A name bound to two sizes is
// a size conflict.
func union(a, b ast.Indices) (ast.Indices, error) {
	for _, r := range b.Names() {
		if s := a.Size(r); s != 0 && s != b.Size(r) {
			return ast.Indices{}, &ast.IndexError{Kind: ast.SizeConflict,
				Detail: fmt.Sprintf("index %c has size %d and %d", r, s, b.Size(r))}
		}
	}
	return a.Merged(b.Sub(a))
}

func (d *deducer) deduce(n ast.Node, target ast.Indices) (ast.Node, error) {
	key := deduceKey{node: n, target: target.GoString()}
	if out, ok := d.memo[key]; ok {
		return out, nil
	}
	out, err := d.deduceNode(n, target)
	if err != nil {
		return nil, err
	}
	d.memo[key] = out
	return out, nil
}

func (d *deducer) deduceNode(n ast.Node, target ast.Indices) (ast.Node, error) {
	switch n := n.(type) {
	case *ast.Leaf:
		idx, err := leafIndices(n)
		if err != nil {
			return nil, err
		}
		return ast.WithIndices(n, idx), nil

	case *ast.Add:
		if len(n.Terms) == 0 {
			return nil, fmt.Errorf("empty sum")
		}
		terms := make([]ast.Node, len(n.Terms))
		for i, t := range n.Terms {
			dt, err := d.deduce(t, target)
			if err != nil {
				return nil, err
			}
			terms[i] = dt
		}
		first := terms[0].Indices()
		for _, t := range terms[1:] {
			if !t.Indices().SameSet(first) {
				return nil, &ast.IndexError{Kind: ast.AddMismatch,
					Detail: fmt.Sprintf("cannot add %#v and %#v in %s", first, t.Indices(), n)}
			}
		}
		out := first
		if first.SameSet(target) {
			out = target
		}
		return ast.WithIndices(ast.WithChildren(n, terms), out), nil

	case *ast.Contraction:
		avail := make([]ast.Indices, len(n.Operands))
		for i, o := range n.Operands {
			a, err := d.available(o)
			if err != nil {
				return nil, err
			}
			avail[i] = a
		}
		ops := make([]ast.Node, len(n.Operands))
		var all ast.Indices
		for i, o := range n.Operands {
			// An operand keeps what the parent wants plus whatever its
			// siblings share with it.
			want := target
			for j, a := range avail {
				if j == i {
					continue
				}
				w, err := union(want, a)
				if err != nil {
					return nil, err
				}
				want = w
			}
			opTarget := want.Select(lo.Filter(want.Names(), func(r rune, _ int) bool { return avail[i].Contains(r) }))
			do, err := d.deduce(o, opTarget)
			if err != nil {
				return nil, err
			}
			ops[i] = do
			if all, err = union(all, do.Indices()); err != nil {
				return nil, err
			}
		}
		if err := checkSizes(target, all); err != nil {
			return nil, err
		}
		out := all.Select(target.Names())
		return ast.WithIndices(ast.WithChildren(n, ops), out), nil

	case *ast.Assignment:
		lhs, err := leafIndices(n.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := d.deduce(n.RHS, lhs)
		if err != nil {
			return nil, err
		}
		if err := checkRealizable(lhs, rhs.Indices()); err != nil {
			return nil, fmt.Errorf("%s: %w", n.LHS, err)
		}
		return ast.WithIndices(ast.WithChildren(n, []ast.Node{ast.WithIndices(n.LHS, lhs), rhs}), lhs), nil

	case *ast.LoopOverGEMM:
		return n, nil

	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
}

// checkSizes reports a size conflict between names shared by a and b.
func checkSizes(a, b ast.Indices) error {
	for _, r := range a.Intersect(b) {
		if a.Size(r) != b.Size(r) {
			return &ast.IndexError{Kind: ast.SizeConflict,
				Detail: fmt.Sprintf("index %c has size %d and %d", r, a.Size(r), b.Size(r))}
		}
	}
	return nil
}

// checkRealizable verifies that rhs produces exactly the declared indices.
func checkRealizable(declared, rhs ast.Indices) error {
	if err := checkSizes(declared, rhs); err != nil {
		return err
	}
	if missing := declared.Sub(rhs); missing.Len() > 0 {
		return &ast.IndexError{Kind: ast.UnboundIndex,
			Detail: fmt.Sprintf("indices %s of %s are not produced by the right-hand side %s", missing, declared, rhs)}
	}
	if extra := rhs.Sub(declared); extra.Len() > 0 {
		return &ast.IndexError{Kind: ast.UnboundIndex,
			Detail: fmt.Sprintf("right-hand side %s produces indices %s missing from %s", rhs, extra, declared)}
	}
	return nil
}
