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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/tensorgen/ast"
)

func TestDeduceIndicesChain(t *testing.T) {
	A := ast.MustTensor("A", []int{2, 3}, nil)
	B := ast.MustTensor("B", []int{3, 4}, nil)
	C := ast.MustTensor("C", []int{4, 5}, nil)
	D := ast.MustTensor("D", []int{2, 5}, nil)

	n, err := DeduceIndices(ast.Assign(D.At("il"), ast.Mul(A.At("ij"), B.At("jk"), C.At("kl"))))
	require.NoError(t, err)
	a := n.(*ast.Assignment)
	assert.Equal(t, "il", a.Indices().String())
	assert.Equal(t, "il", a.RHS.Indices().String())
	for _, o := range a.RHS.Children() {
		assert.True(t, o.Indices().LessEq(ast.MustIndices("ijkl", 2, 3, 4, 5)), "operand %s", o)
	}
}

func TestDeduceIndicesInconsistentAdd(t *testing.T) {
	A := ast.MustTensor("A", []int{3, 4}, nil)
	B := ast.MustTensor("B", []int{3, 5}, nil)

	_, err := DeduceIndices(ast.Sum(A.At("ij"), B.At("ij")))
	require.Error(t, err)
	assert.True(t, ast.IsIndexError(err, ast.AddMismatch), "got %v", err)

	Q := ast.MustTensor("Q", []int{3, 4}, nil)
	_, err = DeduceIndices(ast.Assign(Q.At("ij"), ast.Sum(A.At("ij"), B.At("ij"))))
	require.Error(t, err, "an add mismatch is not broadcast")
}

func TestDeduceIndicesUnboundOutput(t *testing.T) {
	A := ast.MustTensor("A", []int{3, 4}, nil)
	B := ast.MustTensor("B", []int{4, 4}, nil)
	Q := ast.MustTensor("Q", []int{3, 4, 5}, nil)

	_, err := DeduceIndices(ast.Assign(Q.At("ijk"), A.At("ij")))
	assert.True(t, ast.IsIndexError(err, ast.UnboundIndex), "got %v", err)

	_, err = DeduceIndices(ast.Assign(Q.At("ijk"), ast.Mul(A.At("il"), B.At("lj"))))
	assert.True(t, ast.IsIndexError(err, ast.UnboundIndex), "got %v", err)
}

func TestDeduceIndicesSizeConflict(t *testing.T) {
	A := ast.MustTensor("A", []int{3, 4}, nil)
	B := ast.MustTensor("B", []int{5, 4}, nil)
	Q := ast.MustTensor("Q", []int{3, 4}, nil)

	_, err := DeduceIndices(ast.Assign(Q.At("ij"), ast.Mul(A.At("ik"), B.At("kj"))))
	assert.True(t, ast.IsIndexError(err, ast.SizeConflict), "got %v", err)
}

func TestDeduceIndicesSharedSubtree(t *testing.T) {
	A := ast.MustTensor("A", []int{3, 3}, nil)
	Q := ast.MustTensor("Q", []int{3, 3}, nil)
	leaf := A.At("ij")

	n, err := DeduceIndices(ast.Assign(Q.At("ij"), ast.Sum(leaf, leaf)))
	require.NoError(t, err)
	add := n.(*ast.Assignment).RHS.(*ast.Add)
	assert.Same(t, add.Terms[0], add.Terms[1], "identical subtrees deduce once")
	assert.Equal(t, 0, leaf.Indices().Len(), "input nodes are not modified")
}

func TestDeduceIndicesWithTarget(t *testing.T) {
	A := ast.MustTensor("A", []int{2, 3}, nil)
	B := ast.MustTensor("B", []int{3, 4}, nil)

	n, err := DeduceIndicesWithTarget(ast.Mul(A.At("ij"), B.At("jk")), ast.MustIndices("ki", 4, 2))
	require.NoError(t, err)
	assert.Equal(t, "ki", n.Indices().String())

	_, err = DeduceIndicesWithTarget(ast.Mul(A.At("ij"), B.At("jk")), ast.MustIndices("kil", 4, 2, 7))
	assert.True(t, ast.IsIndexError(err, ast.UnboundIndex), "got %v", err)
}
