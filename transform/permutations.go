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

	"gonum.org/v1/gonum/stat/combin"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/ast/loggemm"
)

type permKey struct {
	node  ast.Node
	order string
}

type permChoice struct {
	cost ast.Cost

	// childOrders holds the order chosen for each child; "" keeps the
	// child as is.
	childOrders []string
}

// IndexPermutations holds the memory orders chosen for every intermediate
// result of a tree. Build it with FindIndexPermutations and apply it with
// SelectIndexPermutations.
type IndexPermutations struct {
	root       ast.Node
	rootOrder  string
	searcher   *loggemm.Searcher
	maxIndices int
	memo       map[permKey]permChoice
	infeasible *ast.Contraction
}

// FindIndexPermutations searches, for every contraction of a
// strength-reduced tree, the memory order of its result that minimises the
// accumulated loop-over-GEMM cost of the whole tree.
//
// Leaves keep their storage order and an assignment keeps its declared
// left-hand side order. Intermediate results may take any permutation of
// their indices, as long as they have at most maxIndices indices; larger
// ones keep their deduced order. The search is exponential in the number of
// indices per node, hence the bound.
func FindIndexPermutations(n ast.Node, s *loggemm.Searcher, maxIndices int) (*IndexPermutations, error) {
	p := &IndexPermutations{
		root:       n,
		rootOrder:  n.Indices().String(),
		searcher:   s,
		maxIndices: maxIndices,
		memo:       make(map[permKey]permChoice),
	}
	best := p.best(n, p.rootOrder)
	if !best.cost.Feasible() {
		if p.infeasible != nil {
			return nil, fmt.Errorf("contraction %s -> %s: %w", p.infeasible, p.infeasible.Indices(), ast.ErrInfeasible)
		}
		return nil, fmt.Errorf("%s: %w", n, ast.ErrInfeasible)
	}
	slog.Debug("index permutations", "root", n.String(), "cost", best.cost)
	return p, nil
}

// Cost returns the accumulated cost of the chosen orders.
func (p *IndexPermutations) Cost() ast.Cost {
	return p.best(p.root, p.rootOrder).cost
}

// candidates lists the orders a node may be stored in, declared order first.
func (p *IndexPermutations) candidates(n ast.Node) []string {
	declared := n.Indices().String()
	switch n.(type) {
	case *ast.Contraction, *ast.Add:
	default:
		return []string{declared}
	}
	names := n.Indices().Names()
	if len(names) <= 1 || len(names) > p.maxIndices {
		return []string{declared}
	}
	orders := []string{declared}
	for _, perm := range combin.Permutations(len(names), len(names)) {
		order := make([]rune, len(perm))
		for i, j := range perm {
			order[i] = names[j]
		}
		if s := string(order); s != declared {
			orders = append(orders, s)
		}
	}
	return orders
}

func (p *IndexPermutations) best(n ast.Node, order string) permChoice {
	key := permKey{node: n, order: order}
	if c, ok := p.memo[key]; ok {
		return c
	}
	c := p.search(n, order)
	p.memo[key] = c
	return c
}

func (p *IndexPermutations) search(n ast.Node, order string) permChoice {
	switch n := n.(type) {
	case *ast.Leaf, *ast.LoopOverGEMM:
		return permChoice{cost: ast.AddIdentity()}

	case *ast.Add:
		choice := permChoice{cost: ast.AddIdentity(), childOrders: make([]string, len(n.Terms))}
		for i, t := range n.Terms {
			if _, ok := t.(*ast.Leaf); ok {
				continue
			}
			choice.childOrders[i] = order
			choice.cost = choice.cost.Add(p.best(t, order).cost)
		}
		return choice

	case *ast.Assignment:
		return permChoice{
			cost:        p.best(n.RHS, order).cost,
			childOrders: []string{"", order},
		}

	case *ast.Contraction:
		choice := permChoice{cost: ast.InfeasibleCost()}
		if len(n.Operands) != 2 {
			return choice
		}
		l, r := n.Operands[0], n.Operands[1]
		childrenFeasible := false
		for _, a := range p.candidates(l) {
			cl := p.best(l, a)
			if !cl.cost.Feasible() {
				continue
			}
			for _, b := range p.candidates(r) {
				cr := p.best(r, b)
				if !cr.cost.Feasible() {
					continue
				}
				childrenFeasible = true
				_, cost := p.searcher.LoG(n, loggemm.Permutation{A: a, B: b, C: order})
				total := cl.cost.Add(cr.cost).Add(cost)
				if total.Less(choice.cost) {
					choice = permChoice{cost: total, childOrders: []string{a, b}}
				}
			}
		}
		if childrenFeasible && !choice.cost.Feasible() && p.infeasible == nil {
			p.infeasible = n
		}
		return choice

	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
}

// SelectIndexPermutations rebuilds the tree with the orders chosen by p.
// Sparsity patterns are realigned to the new orders.
func SelectIndexPermutations(p *IndexPermutations) (ast.Node, error) {
	memo := make(map[permKey]ast.Node)
	var rebuild func(n ast.Node, order string) (ast.Node, error)
	rebuild = func(n ast.Node, order string) (ast.Node, error) {
		key := permKey{node: n, order: order}
		if out, ok := memo[key]; ok {
			return out, nil
		}
		var out ast.Node
		switch n.(type) {
		case *ast.Leaf, *ast.LoopOverGEMM:
			out = n
		case *ast.Add, *ast.Contraction, *ast.Assignment:
			choice := p.best(n, order)
			if !choice.cost.Feasible() {
				return nil, fmt.Errorf("%s: %w", n, ast.ErrInfeasible)
			}
			children := n.Children()
			rebuilt := make([]ast.Node, len(children))
			for i, c := range children {
				if choice.childOrders[i] == "" {
					rebuilt[i] = c
					continue
				}
				rc, err := rebuild(c, choice.childOrders[i])
				if err != nil {
					return nil, err
				}
				rebuilt[i] = rc
			}
			out = ast.WithChildren(n, rebuilt)
			if _, ok := n.(*ast.Assignment); !ok {
				idx, err := n.Indices().Permuted(order)
				if err != nil {
					return nil, err
				}
				out = ast.WithEqSpp(ast.WithIndices(out, idx), alignMask(n.EqSpp(), n.Indices(), idx))
			}
		default:
			panic(fmt.Sprintf("unknown node type %T", n))
		}
		memo[key] = out
		return out, nil
	}
	return rebuild(p.root, p.rootOrder)
}
