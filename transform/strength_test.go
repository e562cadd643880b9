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
	"github.com/ajroetker/tensorgen/ast/loggemm"
)

func deduced(t *testing.T, a *ast.Assignment) *ast.Assignment {
	t.Helper()
	n, err := DeduceIndices(a)
	require.NoError(t, err)
	n, err = EquivalentSparsityPattern(n)
	require.NoError(t, err)
	return n.(*ast.Assignment)
}

func TestStrengthReductionChain(t *testing.T) {
	A := ast.MustTensor("A", []int{2, 3}, nil)
	B := ast.MustTensor("B", []int{3, 4}, nil)
	C := ast.MustTensor("C", []int{4, 5}, nil)
	D := ast.MustTensor("D", []int{2, 5}, nil)

	a := deduced(t, ast.Assign(D.At("il"), ast.Mul(A.At("ij"), B.At("jk"), C.At("kl"))))
	n, err := StrengthReduction(a)
	require.NoError(t, err)

	root := n.(*ast.Assignment).RHS.(*ast.Contraction)
	require.Len(t, root.Operands, 2)
	assert.Equal(t, "il", root.Indices().String())

	ab, ok := root.Operands[0].(*ast.Contraction)
	require.True(t, ok, "expected (A*B)*C, got %s", root)
	assert.Equal(t, "ik", ab.Indices().String(), "j must be summed out before C")
	assert.Equal(t, "A", ab.Operands[0].(*ast.Leaf).Tensor.Name())
	assert.Equal(t, "B", ab.Operands[1].(*ast.Leaf).Tensor.Name())
	assert.Equal(t, "C", root.Operands[1].(*ast.Leaf).Tensor.Name())
	assert.NotNil(t, ab.EqSpp())

	worklist, err := FindContractions(n)
	require.NoError(t, err)
	require.Len(t, worklist, 2)
	assert.Same(t, ab, worklist[0])
	assert.Same(t, root, worklist[1])

	for i, want := range []struct{ result, bound string }{{"ik", "j"}, {"il", "k"}} {
		d, err := worklist[i].Descriptor()
		require.NoError(t, err)
		assert.Equal(t, want.result, d.Result.String())
		assert.Equal(t, want.bound, d.Bound.String())
		assert.Equal(t, 3+i, d.Bound.Size(rune(want.bound[0])))
		assert.Same(t, worklist[i].Operands[0], d.Left)
		assert.Same(t, worklist[i].Operands[1], d.Right)
	}
}

func TestStrengthReductionFoldsScalars(t *testing.T) {
	A := ast.MustTensor("A", []int{2, 3}, nil)
	B := ast.MustTensor("B", []int{3, 4}, nil)
	C := ast.MustTensor("C", []int{4, 5}, nil)
	D := ast.MustTensor("D", []int{2, 5}, nil)

	rhs := ast.Scale(3, ast.Mul(ast.Scale(2, A.At("ij")), B.At("jk"), ast.Scale(-1, C.At("kl"))))
	a := deduced(t, ast.Assign(D.At("il"), rhs))
	n, err := StrengthReduction(a)
	require.NoError(t, err)

	root := n.(*ast.Assignment).RHS.(*ast.Contraction)
	assert.Equal(t, -6.0, root.Alpha)
	var check func(ast.Node)
	check = func(n ast.Node) {
		if l, ok := n.(*ast.Leaf); ok {
			assert.Equal(t, 1.0, l.Alpha, "leaf %s", l)
		}
		if c, ok := n.(*ast.Contraction); ok && c != root {
			assert.Equal(t, 1.0, c.Alpha)
		}
		for _, c := range n.Children() {
			check(c)
		}
	}
	check(root)
}

func TestFindContractionsRequiresBinary(t *testing.T) {
	A := ast.MustTensor("A", []int{2, 2}, nil)
	D := ast.MustTensor("D", []int{2, 2}, nil)
	a := deduced(t, ast.Assign(D.At("il"), ast.Mul(A.At("ij"), A.At("jk"), A.At("kl"))))
	_, err := FindContractions(a)
	assert.Error(t, err)

	_, err = a.RHS.(*ast.Contraction).Descriptor()
	assert.ErrorContains(t, err, "has 3 operands, want 2")

	_, err = ImplementContractions(a, loggemm.NewSearcher())
	assert.Error(t, err)
}

func TestImplementContractionsFollowsWorklist(t *testing.T) {
	A := ast.MustTensor("A", []int{2, 3}, nil)
	B := ast.MustTensor("B", []int{3, 4}, nil)
	C := ast.MustTensor("C", []int{4, 5}, nil)
	D := ast.MustTensor("D", []int{2, 5}, nil)

	a := deduced(t, ast.Assign(D.At("il"), ast.Scale(2, ast.Mul(A.At("ij"), B.At("jk"), C.At("kl")))))
	n, err := StrengthReduction(a)
	require.NoError(t, err)
	worklist, err := FindContractions(n)
	require.NoError(t, err)

	out, err := ImplementContractions(n, loggemm.NewSearcher())
	require.NoError(t, err)
	gemms := LoopOverGEMMs(out)
	require.Len(t, gemms, len(worklist))
	for i, g := range gemms {
		assert.Equal(t, worklist[i].Indices().String(), g.Indices().String())
		assert.Equal(t, worklist[i].Alpha, g.Alpha)
		assert.Equal(t, worklist[i].EqSpp(), g.EqSpp())
	}
	assert.Same(t, gemms[0], gemms[1].Left, "the second plan consumes the first")
	assert.Equal(t, 2.0, gemms[0].Alpha*gemms[1].Alpha)
}
