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
	"github.com/ajroetker/tensorgen/internal/envconfig"
)

// Options configures Compile.
type Options struct {
	// MaxPermuteIndices bounds the permutation search; 0 uses
	// envconfig.MaxPermuteIndices.
	MaxPermuteIndices int

	// SkipPermutations keeps every intermediate in its deduced order.
	SkipPermutations bool
}

// Result is a compiled assignment.
type Result struct {
	// Annotated is the deduced tree with sparsity patterns, before strength
	// reduction.
	Annotated *ast.Assignment

	// Worklist holds the binary contractions of the strength-reduced tree,
	// operands before the contractions consuming them.
	Worklist []*ast.Contraction

	// Tree is the implemented tree: an assignment over sums, leaves and
	// loop-over-GEMMs.
	Tree *ast.Assignment

	// Cost is the accumulated cost of all loop-over-GEMMs.
	Cost ast.Cost
}

// Compile runs the full pass sequence on one assignment.
func Compile(a *ast.Assignment, opts Options) (*Result, error) {
	if opts.MaxPermuteIndices == 0 {
		opts.MaxPermuteIndices = envconfig.MaxPermuteIndices()
	}
	searcher := loggemm.NewSearcher()

	n, err := DeduceIndices(a)
	if err != nil {
		return nil, fmt.Errorf("deduce indices: %w", err)
	}
	if n, err = EquivalentSparsityPattern(n); err != nil {
		return nil, fmt.Errorf("sparsity: %w", err)
	}
	res := &Result{Annotated: n.(*ast.Assignment)}

	if n, err = StrengthReduction(n); err != nil {
		return nil, fmt.Errorf("strength reduction: %w", err)
	}
	if res.Worklist, err = FindContractions(n); err != nil {
		return nil, err
	}
	if !opts.SkipPermutations {
		perms, err := FindIndexPermutations(n, searcher, opts.MaxPermuteIndices)
		if err != nil {
			return nil, fmt.Errorf("index permutations: %w", err)
		}
		if n, err = SelectIndexPermutations(perms); err != nil {
			return nil, fmt.Errorf("index permutations: %w", err)
		}
	}
	if n, err = ImplementContractions(n, searcher); err != nil {
		return nil, fmt.Errorf("implement contractions: %w", err)
	}
	res.Tree = n.(*ast.Assignment)

	res.Cost = ast.AddIdentity()
	for _, g := range LoopOverGEMMs(res.Tree) {
		res.Cost = res.Cost.Add(g.Cost)
	}
	slog.Debug("compiled", "assignment", a.String(), "contractions", len(res.Worklist), "cost", res.Cost)
	return res, nil
}
