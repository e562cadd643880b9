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

// FindContractions returns every contraction of a strength-reduced tree in
// post-order: each contraction appears after the contractions producing its
// operands, so the list can be processed front to back. Shared subtrees are
// listed once.
func FindContractions(n ast.Node) ([]*ast.Contraction, error) {
	var worklist []*ast.Contraction
	seen := make(map[ast.Node]bool)
	var walk func(ast.Node) error
	walk = func(n ast.Node) error {
		if seen[n] {
			return nil
		}
		seen[n] = true
		for _, c := range n.Children() {
			if err := walk(c); err != nil {
				return err
			}
		}
		switch n := n.(type) {
		case *ast.Contraction:
			if len(n.Operands) != 2 {
				return fmt.Errorf("contraction %s has %d operands; run StrengthReduction first", n, len(n.Operands))
			}
			worklist = append(worklist, n)
		case *ast.Leaf, *ast.Add, *ast.Assignment, *ast.LoopOverGEMM:
		default:
			panic(fmt.Sprintf("unknown node type %T", n))
		}
		return nil
	}
	if err := walk(n); err != nil {
		return nil, err
	}
	return worklist, nil
}
