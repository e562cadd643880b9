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

// Package loggemm maps a binary tensor contraction onto a GEMM call wrapped
// in loops (loop-over-GEMM).
//
// The search enumerates every way to fuse the row (M), column (N) and
// contracted (K) indices into contiguous memory blocks and scores each
// combination with ast.Cost. It is exponential in the number of indices per
// operand, which is acceptable because real contractions have a handful of
// indices; fused-variant enumeration is memoized per Searcher.
package loggemm

import (
	"slices"

	"github.com/samber/lo"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/internal/logutil"
)

// Permutation reorders the left operand (A), right operand (B) and result (C)
// before the search. Empty strings keep the declared order.
type Permutation struct {
	A, B, C string
}

// Searcher runs loop-over-GEMM searches. It is not safe for concurrent use.
type Searcher struct {
	variants map[variantKey][]string
}

// NewSearcher returns a Searcher with an empty variant cache.
func NewSearcher() *Searcher {
	return &Searcher{variants: make(map[variantKey][]string)}
}

// LoG finds the cheapest loop-over-GEMM for the binary contraction c, whose
// operands and result must be deduced, after applying perm. The plan
// carries c's scalar and sparsity pattern.
//
// It returns a nil plan and ast.InfeasibleCost when c is not binary or
// Search finds no plan.
func (s *Searcher) LoG(c *ast.Contraction, perm Permutation) (*ast.LoopOverGEMM, ast.Cost) {
	d, err := c.Descriptor()
	if err != nil {
		return nil, ast.InfeasibleCost()
	}
	plan, cost := s.Search(d, perm)
	if plan != nil {
		plan.Alpha = c.Alpha
		plan = ast.WithEqSpp(plan, c.EqSpp())
	}
	return plan, cost
}

// Search finds the cheapest loop-over-GEMM for d after applying perm.
//
// It returns a nil plan and ast.InfeasibleCost when the result's names are
// not the symmetric difference of the operands' names, when a permutation
// is invalid, or when no fused M/N/K combination exists. Among equally cheap
// candidates the first one found wins.
func (s *Searcher) Search(d ast.ContractionDescriptor, perm Permutation) (*ast.LoopOverGEMM, ast.Cost) {
	l, r := d.Left, d.Right
	result := d.Result

	var err error
	if l, err = permuted(l, perm.A); err != nil {
		return nil, ast.InfeasibleCost()
	}
	if r, err = permuted(r, perm.B); err != nil {
		return nil, ast.InfeasibleCost()
	}
	if perm.C != "" {
		if result, err = result.Permuted(perm.C); err != nil {
			return nil, ast.InfeasibleCost()
		}
	}

	A, B := l.Indices().Names(), r.Indices().Names()
	C := result.Names()
	if len(C) == 0 || !sameNames(C, symmetricDifference(A, B)) {
		return nil, ast.InfeasibleCost()
	}
	// The first result index must come from the left operand, which then
	// produces M.
	if slices.Contains(B, C[0]) {
		A, B = B, A
		l, r = r, l
	}

	Im := lo.Intersect(A, C)
	In := lo.Intersect(B, C)
	Ik := lo.Intersect(A, B)

	CM := s.fusedVariants(Im, C, true)
	CN := s.fusedVariants(In, C, false)
	AM := s.fusedVariants(Im, A, false)
	AK := s.fusedVariants(Ik, A, false)
	BK := s.fusedVariants(Ik, B, false)
	BN := s.fusedVariants(In, B, false)

	MC := intersect(CM, AM)
	NC := intersect(CN, BN)
	KC := intersect(AK, BK)

	minCost := ast.InfeasibleCost()
	var minLog *ast.LoopOverGEMM
	for _, m := range MC {
		for _, n := range NC {
			for _, k := range KC {
				log := ast.NewLoopOverGEMM(result, l, r, m, n, k)
				if logutil.TraceEnabled() {
					logutil.Trace("log candidate", "A", string(A), "B", string(B), "C", string(C),
						"m", m, "n", n, "k", k, "cost", log.Cost)
				}
				if log.Cost.Less(minCost) {
					minCost = log.Cost
					minLog = log
				}
			}
		}
	}
	return minLog, minCost
}

func permuted(n ast.Node, order string) (ast.Node, error) {
	if order == "" {
		return n, nil
	}
	idx, err := n.Indices().Permuted(order)
	if err != nil {
		return nil, err
	}
	if idx.Equal(n.Indices()) {
		return n, nil
	}
	return ast.WithIndices(n, idx), nil
}

func symmetricDifference(a, b []rune) []rune {
	return append(lo.Without(a, b...), lo.Without(b, a...)...)
}

func sameNames(a, b []rune) bool {
	return len(a) == len(b) && lo.Every(a, b)
}
