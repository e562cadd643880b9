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

package generator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/codegen"
	"github.com/ajroetker/tensorgen/codegen/gemm"
	"github.com/ajroetker/tensorgen/transform"
)

func newGenerator(t *testing.T, opts Options) *Generator {
	t.Helper()
	arch, err := codegen.GetArchitecture("hsw", "double")
	require.NoError(t, err)
	opts.Jobs = 1
	return New(arch, opts)
}

func matmul() *ast.Assignment {
	A := ast.MustTensor("A", []int{4, 6}, nil)
	B := ast.MustTensor("B", []int{6, 5}, nil)
	Q := ast.MustTensor("Q", []int{4, 5}, nil)
	return ast.Assign(Q.At("ij"), ast.Mul(A.At("ik"), B.At("kj")))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestAddNames(t *testing.T) {
	g := newGenerator(t, Options{DisableLibxsmm: true})
	require.NoError(t, g.Add("matmul", matmul()))
	assert.ErrorContains(t, g.Add("matmul", matmul()), "already defined")
	assert.ErrorContains(t, g.Add("2fast", matmul()), "not a valid identifier")
	assert.ErrorContains(t, g.Add("with space", matmul()), "not a valid identifier")

	require.NoError(t, g.Add("second", matmul()))
	var names []string
	for _, k := range g.Kernels() {
		names = append(names, k.Name)
		assert.False(t, k.IsFamily())
	}
	assert.Equal(t, []string{"matmul", "second"}, names)
}

func TestParameterSpace(t *testing.T) {
	s := SimpleParameterSpace(2, 3)
	want := [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}
	if diff := cmp.Diff(want, s.Points()); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	for i, p := range s.Points() {
		assert.Equal(t, i, linear(s.Dims(), p))
	}

	f := FilteredParameterSpace(s, func(p []int) bool { return p[0] != p[1] })
	want = [][]int{{0, 1}, {0, 2}, {1, 0}, {1, 2}}
	if diff := cmp.Diff(want, f.Points()); diff != "" {
		t.Errorf("filtered points mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{2, 3}, f.Dims())
	assert.Equal(t, 6, size(f.Dims()))
}

func TestNonzeroFlops(t *testing.T) {
	g := newGenerator(t, Options{DisableLibxsmm: true})
	require.NoError(t, g.Add("matmul", matmul()))
	tree := g.Kernels()[0].Members[0].Result.Tree
	// 4*5*6 products, each a multiply and an add, minus the 20 first adds.
	assert.Equal(t, 220, AssignmentNonzeroFlops(tree))

	spp := ast.NewMask([]int{4, 6}, false)
	spp.Set([]int{0, 0}, true)
	spp.Set([]int{3, 5}, true)
	A := ast.MustTensor("A", []int{4, 6}, spp)
	B := ast.MustTensor("B", []int{6, 5}, nil)
	Q := ast.MustTensor("Q", []int{4, 5}, nil)
	require.NoError(t, g.Add("sparse", ast.Accumulate(Q.At("ij"), ast.Mul(A.At("ik"), B.At("kj")))))
	tree = g.Kernels()[1].Members[0].Result.Tree
	// Two nonzeros of A, each meeting a full row of B.
	assert.Equal(t, 2*2*5, AssignmentNonzeroFlops(tree))
}

func TestGenerateKernel(t *testing.T) {
	g := newGenerator(t, Options{DisableLibxsmm: true})
	require.NoError(t, g.Add("matmul", matmul()))

	dir := t.TempDir()
	files, err := g.Generate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "kernel.h"),
		filepath.Join(dir, "kernel.cpp"),
		filepath.Join(dir, "gemms.h"),
	}, files)

	header := readFile(t, filepath.Join(dir, "kernel.h"))
	for _, want := range []string{
		"#ifndef TENSORGEN_KERNEL_H_",
		"namespace kernel {",
		"struct matmul {",
		"constexpr static unsigned long const NonZeroFlops = 220;",
		"constexpr static unsigned long const HardwareFlops = 240;",
		"double* Q{};",
		"double const* A{};",
		"double const* B{};",
		"void execute();",
	} {
		assert.Contains(t, header, want)
	}

	source := readFile(t, filepath.Join(dir, "kernel.cpp"))
	for _, want := range []string{
		`#include "kernel.h"`,
		`#include "gemms.h"`,
		"#include <cassert>",
		"void kernel::matmul::execute() {",
		"assert(Q != nullptr);",
		"assert(A != nullptr);",
		"for (int _k = 0; _k < 6; ++_k) {",
	} {
		assert.Contains(t, source, want)
	}
	assert.NotContains(t, source, "libxsmm_num_total_flops")
}

func TestGenerateFamily(t *testing.T) {
	g := newGenerator(t, Options{DisableLibxsmm: true})
	A, err := ast.NewTensorFamily("A", []int{3}, []int{4, 6}, nil)
	require.NoError(t, err)
	B := ast.MustTensor("B", []int{6, 5}, nil)
	Q := ast.MustTensor("Q", []int{4, 5}, nil)

	space := FilteredParameterSpace(SimpleParameterSpace(3), func(p []int) bool { return p[0] != 1 })
	err = g.AddFamily("flux", space, func(params ...int) (*ast.Assignment, error) {
		return ast.Accumulate(Q.At("ij"), ast.Mul(A.At(params...).At("ik"), B.At("kj"))), nil
	})
	require.NoError(t, err)
	k := g.Kernels()[0]
	require.True(t, k.IsFamily())
	require.Len(t, k.Members, 2)
	assert.Equal(t, 2, k.Members[1].Linear)

	dir := t.TempDir()
	_, err = g.Generate(context.Background(), dir)
	require.NoError(t, err)

	header := readFile(t, filepath.Join(dir, "kernel.h"))
	for _, want := range []string{
		"struct flux {",
		"constexpr static unsigned long const NonZeroFlops[] = {240, 0, 240};",
		"double const* A[3]{};",
		"double* Q{};",
		"void execute0();",
		"void execute2();",
		"constexpr static member_function_ptr ExecutePtrs[] = {&flux::execute0, nullptr, &flux::execute2};",
		"constexpr static member_function_ptr findExecute(unsigned i0) {",
		"return ExecutePtrs[i0];",
		"inline void execute(unsigned i0) {",
		"(this->*findExecute(i0))();",
	} {
		assert.Contains(t, header, want)
	}

	source := readFile(t, filepath.Join(dir, "kernel.cpp"))
	assert.Contains(t, source, "void kernel::flux::execute2() {")
	assert.Contains(t, source, "assert(A[2] != nullptr);")
	assert.NotContains(t, source, "execute1")
}

func TestAddFamilyEmpty(t *testing.T) {
	g := newGenerator(t, Options{DisableLibxsmm: true})
	space := FilteredParameterSpace(SimpleParameterSpace(2), func([]int) bool { return false })
	err := g.AddFamily("none", space, func(...int) (*ast.Assignment, error) { return matmul(), nil })
	assert.ErrorContains(t, err, "empty parameter space")
}

func TestGenerateMissingLibxsmm(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	g := newGenerator(t, Options{Executable: "libxsmm_gemm_generator"})
	require.NoError(t, g.Add("matmul", matmul()))

	_, err := g.Generate(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, gemm.ErrGeneratorNotFound)
}

func TestGEMMCallBackend(t *testing.T) {
	g := newGenerator(t, Options{})
	require.NoError(t, g.Add("matmul", matmul()))
	gemms := g.Kernels()[0].Members[0].Result.Tree
	var found bool
	for _, lg := range transform.LoopOverGEMMs(gemms) {
		found = true
		call := GEMMCall(lg)
		assert.Equal(t, 4, call.M)
		assert.Equal(t, 5, call.N)
		assert.Equal(t, 6, call.K)
		assert.Equal(t, "libxsmm", gemm.Select(call, g.backends()...).Name())
	}
	assert.True(t, found)
}

func TestGenerateTransposeInPlace(t *testing.T) {
	g := newGenerator(t, Options{DisableLibxsmm: true})
	Q := ast.MustTensor("Q", []int{3, 3}, nil)
	require.NoError(t, g.Add("transpose", ast.Assign(Q.At("ij"), Q.At("ji"))))
	require.NoError(t, g.Add("scale", ast.Assign(Q.At("ij"), ast.Scale(2, Q.At("ij")))))

	dir := t.TempDir()
	_, err := g.Generate(context.Background(), dir)
	require.NoError(t, err)
	source := readFile(t, filepath.Join(dir, "kernel.cpp"))

	transpose, scale, ok := strings.Cut(source, "void kernel::scale::execute()")
	require.True(t, ok)
	for _, want := range []string{
		"alignas(32) double _tmp0[9];",
		"_tmp0[_i + _j*3] = Q[_i*3 + _j];",
		"Q[_i + _j*3] = _tmp0[_i + _j*3];",
	} {
		assert.Contains(t, transpose, want)
	}
	assert.NotContains(t, scale, "_tmp")
	assert.Contains(t, scale, "Q[_i + _j*3] = 2.0 * Q[_i + _j*3];")
}
