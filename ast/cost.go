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

package ast

import (
	"fmt"
	"math"
)

// Cost scores a loop-over-GEMM candidate. Lower is better.
//
//   - Stride counts operands whose leading GEMM dimension is not unit
//     stride: 0 means both operands are unit stride.
//   - LeftTranspose and RightTranspose count required operand transposes.
//   - FusedIndices counts the indices merged into the M, N and K groups.
//
// Costs compare lexicographically on (Stride, LeftTranspose+RightTranspose,
// FusedIndices) and break remaining ties on LeftTranspose alone.
// FusedIndices is compared ascending although more fused indices mean larger
// GEMMs; the search therefore prefers fewer fused indices on otherwise equal
// candidates. The tie-break ignores RightTranspose.
type Cost struct {
	Stride         int
	LeftTranspose  int
	RightTranspose int
	FusedIndices   int
}

// InfeasibleCost is the cost of a contraction without a GEMM mapping. Every
// feasible cost is less than it.
func InfeasibleCost() Cost {
	return Cost{Stride: math.MaxInt32, LeftTranspose: math.MaxInt32, RightTranspose: math.MaxInt32}
}

// AddIdentity is the neutral element of Add.
func AddIdentity() Cost {
	return Cost{}
}

// Feasible reports whether c is below the infeasible sentinel.
func (c Cost) Feasible() bool {
	return c.Less(InfeasibleCost())
}

func (c Cost) tuple() [3]int {
	return [3]int{c.Stride, c.LeftTranspose + c.RightTranspose, c.FusedIndices}
}

// Less reports whether c is strictly cheaper than o.
func (c Cost) Less(o Cost) bool {
	s, t := c.tuple(), o.tuple()
	if s == t {
		return c.LeftTranspose < o.LeftTranspose
	}
	for i := range s {
		if s[i] != t[i] {
			return s[i] < t[i]
		}
	}
	return false
}

// Equal reports whether neither cost is less than the other.
func (c Cost) Equal(o Cost) bool {
	return c.tuple() == o.tuple() && c.LeftTranspose == o.LeftTranspose
}

// Add sums two costs componentwise. It accumulates the costs of nested
// contractions; infeasible inputs saturate.
func (c Cost) Add(o Cost) Cost {
	if !c.Feasible() || !o.Feasible() {
		return InfeasibleCost()
	}
	return Cost{
		Stride:         c.Stride + o.Stride,
		LeftTranspose:  c.LeftTranspose + o.LeftTranspose,
		RightTranspose: c.RightTranspose + o.RightTranspose,
		FusedIndices:   c.FusedIndices + o.FusedIndices,
	}
}

func (c Cost) String() string {
	if !c.Feasible() {
		return "{infeasible}"
	}
	return fmt.Sprintf("{stride: %d, left transpose: %d, right transpose: %d, fused indices: %d}",
		c.Stride, c.LeftTranspose, c.RightTranspose, c.FusedIndices)
}
