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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilders(t *testing.T) {
	A := MustTensor("A", []int{2, 3}, nil)
	B := MustTensor("B", []int{3, 4}, nil)
	C := MustTensor("C", []int{4, 5}, nil)
	D := MustTensor("D", []int{2, 5}, nil)

	prod := Mul(Scale(2, Mul(A.At("ij"), B.At("jk"))), C.At("kl"))
	require.Len(t, prod.Operands, 3, "nested products are flattened")
	assert.Equal(t, 2.0, prod.Alpha)

	sum := Sum(Sum(A.At("ij"), A.At("ij")), Scale(-1, A.At("ij")))
	require.Len(t, sum.Terms, 3, "nested sums are flattened")
	assert.Equal(t, -1.0, sum.Terms[2].(*Leaf).Alpha)
	assert.Equal(t, 1.0, sum.Terms[0].(*Leaf).Alpha, "Scale must not modify its operand")

	a := Assign(D.At("il"), prod)
	assert.False(t, a.Accumulate)
	assert.Equal(t, "D[il] <= 2*(A[ij] * B[jk] * C[kl])", a.String())
	assert.True(t, Accumulate(D.At("il"), prod).Accumulate)
}

func TestWithCopies(t *testing.T) {
	A := MustTensor("A", []int{2, 3}, nil)
	l := A.At("ij")
	idx := MustIndices("ij", 2, 3)

	l2 := WithIndices(l, idx)
	assert.NotSame(t, l, l2)
	assert.Equal(t, 0, l.Indices().Len(), "original must stay unannotated")
	assert.Equal(t, "ij", l2.Indices().String())

	m := DenseMask([]int{2, 3})
	l3 := WithEqSpp(l2, m)
	assert.Nil(t, l2.EqSpp())
	assert.Same(t, m, l3.EqSpp())
	assert.Equal(t, "ij", l3.Indices().String())

	c := Mul(l, l)
	c2 := WithChildren(c, []Node{l3, l3}).(*Contraction)
	assert.Same(t, l, c.Operands[0].(*Leaf))
	assert.Same(t, l3, c2.Operands[0].(*Leaf))
}

func TestNewLoopOverGEMM(t *testing.T) {
	A := MustTensor("A", []int{4, 6, 3}, nil)
	B := MustTensor("B", []int{6, 5, 3}, nil)
	left := WithIndices(A.At("ikl"), MustIndices("ikl", 4, 6, 3))
	right := WithIndices(B.At("kjl"), MustIndices("kjl", 6, 5, 3))
	result := MustIndices("ij", 4, 5)

	g := NewLoopOverGEMM(result, left, right, "i", "j", "k")
	assert.False(t, g.TransA)
	assert.False(t, g.TransB)
	assert.Equal(t, Cost{FusedIndices: 3}, g.Cost)
	assert.Equal(t, GEMMShape{M: 4, N: 5, K: 6, LDA: 4, LDB: 6, LDC: 4}, g.Shape)
	assert.Equal(t, []Loop{{Index: 'l', Size: 3, Summed: true}}, g.Loops)
	assert.True(t, g.HasSummedLoops())
	assert.Equal(t, 2*4*5*6*3, g.Flops())

	out := Format(g)
	assert.True(t, strings.HasPrefix(out, "LoopOverGEMM m=i n=j k=k"), out)
}
