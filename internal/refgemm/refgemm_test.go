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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/transform"
)

func TestGemm(t *testing.T) {
	// A = [1 2 3; 4 5 6] and B = [1 0; 0 1; 1 1], column-major.
	a := Matrix[float64]{Data: []float64{1, 4, 2, 5, 3, 6}, RowStride: 1, ColStride: 2}
	b := Matrix[float64]{Data: []float64{1, 0, 1, 0, 1, 1}, RowStride: 1, ColStride: 3}
	c := Matrix[float64]{Data: []float64{100, 100, 100, 100}, RowStride: 1, ColStride: 2}

	Gemm(2, 2, 3, 1, a, b, 0, c)
	assert.Equal(t, []float64{4, 10, 5, 11}, c.Data)

	Gemm(2, 2, 3, -1, a, b, 2, c)
	assert.Equal(t, []float64{4, 10, 5, 11}, c.Data)
}

func TestGemmTransposedView(t *testing.T) {
	// The same A stored row-major and read through swapped strides.
	a := Matrix[float32]{Data: []float32{0, 1, 2, 3, 4, 5, 6}, Offset: 1, RowStride: 3, ColStride: 1}
	b := Matrix[float32]{Data: []float32{1, 1, 1}, RowStride: 1, ColStride: 3}
	c := Matrix[float32]{Data: make([]float32, 2), RowStride: 1, ColStride: 2}

	Gemm(2, 1, 3, 0.5, a, b, 0, c)
	assert.Equal(t, []float32{3, 7.5}, c.Data)
}

func TestNaive(t *testing.T) {
	A := ast.MustTensor("A", []int{2, 2}, nil)
	B := ast.MustTensor("B", []int{2, 2}, nil)
	Q := ast.MustTensor("Q", []int{2, 2}, nil)
	v := Alloc(A, B, Q)
	copy(v[A], []float64{1, 3, 2, 4})
	copy(v[B], []float64{5, 7, 6, 8})
	copy(v[Q], []float64{1, 1, 1, 1})

	a := ast.Accumulate(Q.At("ij"), ast.Mul(A.At("ik"), B.At("kj")))
	deduced, err := transform.DeduceIndices(a)
	require.NoError(t, err)
	require.NoError(t, Naive(deduced.(*ast.Assignment), v))
	// [1 2; 3 4] * [5 6; 7 8] = [19 22; 43 50], plus the prior ones.
	assert.Equal(t, []float64{20, 44, 23, 51}, v[Q])
}
