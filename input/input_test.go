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

package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/codegen"
	"github.com/ajroetker/tensorgen/generator"
)

const program = `
tensors:
  - name: A
    shape: [4, 4]
  - name: Q
    shape: [4, 3]
  - name: B
    shape: [4, 3]
  - name: F
    shape: [4, 4]
    group: [2]
    nonzeros: [[0, 0], [1, 1], [2, 2], [3, 3]]
kernels:
  - name: volume
    lhs: Q[kp]
    add: true
    terms:
      - A[kl] Q[lp]
  - name: flux
    space: [2]
    lhs: Q[kp]
    add: true
    terms:
      - -0.5 F($0)[kl] Q[lp]
      - 2 B[kp]
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(program))
	require.NoError(t, err)
	require.Len(t, p.Kernels, 2)

	a, err := p.Tensor("A")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, a.Shape())
	assert.Nil(t, a.Spp())

	f1, err := p.Tensor("F", 1)
	require.NoError(t, err)
	assert.Equal(t, "F[1]", f1.Name())
	assert.Equal(t, 2, f1.FamilySize())
	require.NotNil(t, f1.Spp())
	assert.Equal(t, 4, f1.Spp().Count())
	assert.True(t, f1.Spp().At([]int{2, 2}))
	assert.False(t, f1.Spp().At([]int{0, 1}))
}

func TestAssignment(t *testing.T) {
	p, err := Parse([]byte(program))
	require.NoError(t, err)

	vol, err := p.Assignment(p.Kernels[0])
	require.NoError(t, err)
	assert.True(t, vol.Accumulate)
	assert.Equal(t, "kp", vol.LHS.IndexNames)
	c, ok := vol.RHS.(*ast.Contraction)
	require.True(t, ok)
	require.Len(t, c.Operands, 2)

	flux, err := p.Assignment(p.Kernels[1], 1)
	require.NoError(t, err)
	add, ok := flux.RHS.(*ast.Add)
	require.True(t, ok)
	require.Len(t, add.Terms, 2)

	scaled, ok := add.Terms[0].(*ast.Contraction)
	require.True(t, ok)
	assert.Equal(t, -0.5, scaled.Alpha)
	f := scaled.Operands[0].(*ast.Leaf)
	assert.Equal(t, "F[1]", f.Tensor.Name())

	leaf, ok := add.Terms[1].(*ast.Leaf)
	require.True(t, ok)
	assert.Equal(t, 2.0, leaf.Alpha)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name, doc, want string
	}{
		{
			name: "duplicate tensor",
			doc:  "tensors: [{name: A, shape: [2]}, {name: A, shape: [3]}]",
			want: "tensor A declared twice",
		},
		{
			name: "nonzero out of range",
			doc:  "tensors: [{name: A, shape: [2], nonzeros: [[5]]}]",
			want: "tensor A",
		},
		{
			name: "kernel without terms",
			doc:  "kernels: [{name: k, lhs: 'A[i]'}]",
			want: "kernel k: no terms",
		},
		{
			name: "kernel without name",
			doc:  "kernels: [{lhs: 'A[i]', terms: ['A[i]']}]",
			want: "kernel without name",
		},
		{
			name: "not yaml",
			doc:  "tensors: [",
			want: "parse program",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestAssignmentErrors(t *testing.T) {
	p, err := Parse([]byte(program))
	require.NoError(t, err)

	tests := []struct {
		name string
		k    KernelDecl
		want string
	}{
		{"misspelled tensor", KernelDecl{LHS: "Q[kp]", Terms: []string{"Aa[kl] Q[lp]"}}, `unknown tensor "Aa" (did you mean "A"?)`},
		{"unrelated name", KernelDecl{LHS: "Q[kp]", Terms: []string{"Stiffness[kl] Q[lp]"}}, `unknown tensor "Stiffness"`},
		{"malformed", KernelDecl{LHS: "Q[kp]", Terms: []string{"A(kl)"}}, `malformed factor "A(kl)"`},
		{"rank", KernelDecl{LHS: "Q[kp]", Terms: []string{"A[k]"}}, "1 indices for a rank 2 tensor"},
		{"family without coordinates", KernelDecl{LHS: "Q[kp]", Terms: []string{"F[kl] Q[lp]"}}, "needs 1 coordinates, got 0"},
		{"coordinate out of range", KernelDecl{LHS: "Q[kp]", Terms: []string{"F(2)[kl] Q[lp]"}}, "out of range"},
		{"missing parameter", KernelDecl{LHS: "Q[kp]", Terms: []string{"F($1)[kl] Q[lp]"}}, `bad parameter reference "$1"`},
		{"plain tensor with coordinates", KernelDecl{LHS: "Q[kp]", Terms: []string{"A(0)[kl] Q[lp]"}}, "tensor A is not a family"},
		{"scalar only", KernelDecl{LHS: "Q[kp]", Terms: []string{"2"}}, "has no factors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Assignment(tt.k, 0)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err = p.Assignment(KernelDecl{LHS: "Q[kp]", Terms: []string{"Stiffness[kl] Q[lp]"}})
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoadAndAddTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "program.yaml")
	require.NoError(t, os.WriteFile(path, []byte(program), 0o644))
	p, err := Load(path)
	require.NoError(t, err)

	arch, err := codegen.GetArchitecture("noarch", "double")
	require.NoError(t, err)
	g := generator.New(arch, generator.Options{DisableLibxsmm: true, Jobs: 1})
	require.NoError(t, p.AddTo(g))

	kernels := g.Kernels()
	require.Len(t, kernels, 2)
	assert.Equal(t, "volume", kernels[0].Name)
	assert.False(t, kernels[0].IsFamily())
	assert.Equal(t, "flux", kernels[1].Name)
	assert.True(t, kernels[1].IsFamily())
	assert.Len(t, kernels[1].Members, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
