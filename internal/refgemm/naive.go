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

package refgemm

import (
	"fmt"
	"maps"

	"github.com/ajroetker/tensorgen/ast"
)

// Naive evaluates a deduced assignment entry by entry, summing every
// contraction over its bound indices. Loop-over-GEMM nodes are treated as
// the contraction of their two operands.
func Naive(a *ast.Assignment, v Values) error {
	data, err := v.get(a.LHS.Tensor)
	if err != nil {
		return err
	}
	layout := ast.NewMemoryLayout(a.LHS.Indices())
	out := make([]float64, layout.NumElements())
	var evalErr error
	forEach(a.LHS.Indices(), func(pos map[rune]int) {
		x, err := value(a.RHS, pos, v)
		if err != nil {
			evalErr = err
			return
		}
		addr := layout.Address(pos)
		if a.Accumulate {
			x += data[addr]
		}
		out[addr] = x
	})
	if evalErr != nil {
		return evalErr
	}
	copy(data, out)
	return nil
}

func value(n ast.Node, pos map[rune]int, v Values) (float64, error) {
	switch n := n.(type) {
	case *ast.Leaf:
		data, err := v.get(n.Tensor)
		if err != nil {
			return 0, err
		}
		return n.Alpha * data[ast.NewMemoryLayout(n.Indices()).Address(pos)], nil
	case *ast.Add:
		sum := 0.0
		for _, t := range n.Terms {
			x, err := value(t, pos, v)
			if err != nil {
				return 0, err
			}
			sum += x
		}
		return sum, nil
	case *ast.Contraction:
		s, err := contract(n.Indices(), n.Operands, pos, v)
		return n.Alpha * s, err
	case *ast.LoopOverGEMM:
		s, err := contract(n.Indices(), []ast.Node{n.Left, n.Right}, pos, v)
		return n.Alpha * s, err
	default:
		return 0, fmt.Errorf("cannot evaluate %T", n)
	}
}

func contract(result ast.Indices, operands []ast.Node, pos map[rune]int, v Values) (float64, error) {
	var bound ast.Indices
	for _, o := range operands {
		extra := o.Indices().Sub(result).Sub(bound)
		var err error
		if bound, err = bound.Merged(extra); err != nil {
			return 0, err
		}
	}
	inner := maps.Clone(pos)
	sum := 0.0
	var evalErr error
	forEach(bound, func(b map[rune]int) {
		maps.Copy(inner, b)
		p := 1.0
		for _, o := range operands {
			x, err := value(o, inner, v)
			if err != nil {
				evalErr = err
				return
			}
			p *= x
		}
		sum += p
	})
	return sum, evalErr
}
