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
	"fmt"
	"slices"
	"strings"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/codegen"
	"github.com/ajroetker/tensorgen/codegen/gemm"
	"github.com/ajroetker/tensorgen/transform"
)

// buffer is a C++ array expression together with the dense layout of the
// values it holds.
type buffer struct {
	pointer string
	layout  ast.MemoryLayout
}

// emitter writes the C++ body of one implemented assignment.
type emitter struct {
	w        *codegen.Writer
	arch     codegen.Architecture
	cache    *codegen.RoutineCache
	backends []gemm.Backend

	temps         int
	hardwareFlops int
}

func newEmitter(w *codegen.Writer, arch codegen.Architecture, cache *codegen.RoutineCache, backends []gemm.Backend) *emitter {
	return &emitter{w: w, arch: arch, cache: cache, backends: backends}
}

// tensorExpr is the C++ expression of a tensor's storage.
func tensorExpr(t *ast.Tensor) string {
	if t.FamilySize() == 0 {
		return t.BaseName()
	}
	return fmt.Sprintf("%s[%d]", t.BaseName(), t.FamilyIndex())
}

func loopVar(r rune) string {
	if r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
		return "_" + string(r)
	}
	return fmt.Sprintf("_u%04x", r)
}

// assignment emits a.
func (e *emitter) assignment(a *ast.Assignment) error {
	lhs := buffer{pointer: tensorExpr(a.LHS.Tensor), layout: ast.NewMemoryLayout(a.LHS.Indices())}
	beta := 0.0
	if a.Accumulate {
		beta = 1
	}
	if transform.ReadsTarget(a) {
		tmp := e.temporary(a.LHS.Indices())
		if err := e.into(a.RHS, tmp, 0); err != nil {
			return err
		}
		e.copyBuffer(tmp, lhs, beta)
		return nil
	}
	for _, t := range termsOf(a.RHS) {
		if err := e.into(t, lhs, beta); err != nil {
			return err
		}
		beta = 1
	}
	return nil
}

func (e *emitter) copyBuffer(src, dst buffer, beta float64) {
	loops := loopsOf(dst.layout.Indices())
	e.forEach(loops, func() {
		d := fmt.Sprintf("%s[%s]", dst.pointer, offset(dst.layout, loops))
		s := fmt.Sprintf("%s[%s]", src.pointer, offset(src.layout, loops))
		if beta == 0 {
			e.w.Line("%s = %s;", d, s)
		} else {
			e.w.Line("%s += %s;", d, s)
		}
	})
	if beta != 0 {
		e.hardwareFlops += dst.layout.NumElements()
	}
}

func termsOf(n ast.Node) []ast.Node {
	if add, ok := n.(*ast.Add); ok {
		return add.Terms
	}
	return []ast.Node{n}
}

// into computes n and stores dst = n + beta*dst.
func (e *emitter) into(n ast.Node, dst buffer, beta float64) error {
	switch n := n.(type) {
	case *ast.Leaf:
		e.copyLeaf(n, dst, beta)
		return nil
	case *ast.Add:
		for i, t := range n.Terms {
			b := beta
			if i > 0 {
				b = 1
			}
			if err := e.into(t, dst, b); err != nil {
				return err
			}
		}
		return nil
	case *ast.LoopOverGEMM:
		return e.loopOverGEMM(n, dst, beta)
	case *ast.Contraction, *ast.Assignment:
		return fmt.Errorf("cannot emit %T %s: tree is not implemented", n, n)
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
}

// operand returns the storage of n, computing it into a temporary unless it
// is an unscaled leaf.
func (e *emitter) operand(n ast.Node) (buffer, float64, error) {
	if l, ok := n.(*ast.Leaf); ok {
		return buffer{pointer: tensorExpr(l.Tensor), layout: ast.NewMemoryLayout(l.Indices())}, l.Alpha, nil
	}
	tmp := e.temporary(n.Indices())
	if err := e.into(n, tmp, 0); err != nil {
		return buffer{}, 0, err
	}
	return tmp, 1, nil
}

func (e *emitter) temporary(idx ast.Indices) buffer {
	name := fmt.Sprintf("_tmp%d", e.temps)
	e.temps++
	layout := ast.NewMemoryLayout(idx)
	e.w.Line("alignas(%d) %s %s[%d];", e.arch.Alignment, e.arch.Typename(), name, layout.NumElements())
	return buffer{pointer: name, layout: layout}
}

// forEach opens one loop per entry of loops, first loop innermost, and calls
// body inside.
func (e *emitter) forEach(loops []ast.Loop, body func()) {
	if len(loops) == 0 {
		body()
		return
	}
	last := loops[len(loops)-1]
	v := loopVar(last.Index)
	e.w.Block(fmt.Sprintf("for (int %[1]s = 0; %[1]s < %[2]d; ++%[1]s)", v, last.Size), func() {
		e.forEach(loops[:len(loops)-1], body)
	})
}

func loopsOf(idx ast.Indices) []ast.Loop {
	loops := make([]ast.Loop, idx.Len())
	for i, r := range idx.Names() {
		loops[i] = ast.Loop{Index: r, Size: idx.Size(r)}
	}
	return loops
}

// offset renders the element offset of the loop variables of loops within
// layout; loops whose index the layout lacks are skipped.
func offset(layout ast.MemoryLayout, loops []ast.Loop) string {
	var terms []string
	for _, l := range loops {
		if !layout.Indices().Contains(l.Index) {
			continue
		}
		if s := layout.Stride(l.Index); s == 1 {
			terms = append(terms, loopVar(l.Index))
		} else {
			terms = append(terms, fmt.Sprintf("%s*%d", loopVar(l.Index), s))
		}
	}
	if len(terms) == 0 {
		return "0"
	}
	return strings.Join(terms, " + ")
}

func (e *emitter) copyLeaf(l *ast.Leaf, dst buffer, beta float64) {
	src := ast.NewMemoryLayout(l.Indices())
	loops := loopsOf(dst.layout.Indices())
	scale := ""
	if l.Alpha != 1 {
		scale = codegen.Float(l.Alpha) + " * "
	}
	e.forEach(loops, func() {
		d := fmt.Sprintf("%s[%s]", dst.pointer, offset(dst.layout, loops))
		s := fmt.Sprintf("%s%s[%s]", scale, tensorExpr(l.Tensor), offset(src, loops))
		switch beta {
		case 0:
			e.w.Line("%s = %s;", d, s)
		case 1:
			e.w.Line("%s += %s;", d, s)
		default:
			e.w.Line("%s = %s * %s + %s;", d, codegen.Float(beta), d, s)
		}
	})
	n := dst.layout.NumElements()
	if beta != 0 {
		e.hardwareFlops += n
	}
	if l.Alpha != 1 {
		e.hardwareFlops += n
	}
}

func (e *emitter) zero(dst buffer) {
	loops := loopsOf(dst.layout.Indices())
	e.forEach(loops, func() {
		e.w.Line("%s[%s] = 0.0;", dst.pointer, offset(dst.layout, loops))
	})
}

func (e *emitter) loopOverGEMM(g *ast.LoopOverGEMM, dst buffer, beta float64) error {
	a, alphaA, err := e.operand(g.Left)
	if err != nil {
		return err
	}
	b, alphaB, err := e.operand(g.Right)
	if err != nil {
		return err
	}
	if g.HasSummedLoops() && beta == 0 {
		e.zero(dst)
		beta = 1
	}

	call := gemmCall(g, a.layout, b.layout, dst.layout, g.Alpha*alphaA*alphaB, beta)
	call.AlignedA = !g.TransA && e.aligned(a.layout, g.Loops, call.LDA)
	call.AlignedC = e.aligned(dst.layout, g.Loops, call.LDC)

	backend := gemm.Select(call, e.backends...)
	var emitErr error
	e.forEach(g.Loops, func() {
		c := call
		c.A.Pointer = withOffset(a.pointer, offset(a.layout, g.Loops))
		c.B.Pointer = withOffset(b.pointer, offset(b.layout, g.Loops))
		c.C.Pointer = withOffset(dst.pointer, offset(dst.layout, g.Loops))
		if err := backend.Emit(e.w, c, e.cache); err != nil && emitErr == nil {
			emitErr = err
		}
	})
	if emitErr != nil {
		return fmt.Errorf("%s: %w", backend.Name(), emitErr)
	}
	e.hardwareFlops += g.Flops()
	return nil
}

// aligned reports whether every block start stays vector aligned: the
// leading dimension and the stride of every outer loop in layout.
func (e *emitter) aligned(layout ast.MemoryLayout, loops []ast.Loop, ld int) bool {
	if !e.arch.Aligned(ld) {
		return false
	}
	return !slices.ContainsFunc(loops, func(l ast.Loop) bool {
		return layout.Indices().Contains(l.Index) && l.Size > 1 && !e.arch.Aligned(layout.Stride(l.Index))
	})
}

func withOffset(pointer, off string) string {
	if off == "0" {
		return pointer
	}
	return pointer + " + " + off
}

func gemmCall(g *ast.LoopOverGEMM, a, b, c ast.MemoryLayout, alpha, beta float64) gemm.Call {
	m0, n0, k0 := []rune(g.M)[0], []rune(g.N)[0], []rune(g.K)[0]
	return gemm.Call{
		Descriptor: gemm.Descriptor{
			M:     g.Shape.M,
			N:     g.Shape.N,
			K:     g.Shape.K,
			LDA:   g.Shape.LDA,
			LDB:   g.Shape.LDB,
			LDC:   c.Stride(n0),
			Alpha: alpha,
			Beta:  beta,
		},
		A:      gemm.Operand{RowStride: a.Stride(m0), ColStride: a.Stride(k0)},
		B:      gemm.Operand{RowStride: b.Stride(k0), ColStride: b.Stride(n0)},
		C:      gemm.Operand{RowStride: c.Stride(m0), ColStride: c.Stride(n0)},
		TransA: g.TransA,
		TransB: g.TransB,
	}
}

// GEMMCall describes the GEMM of g for operands stored in their own index
// order, without pointers.
func GEMMCall(g *ast.LoopOverGEMM) gemm.Call {
	return gemmCall(g,
		ast.NewMemoryLayout(g.Left.Indices()),
		ast.NewMemoryLayout(g.Right.Indices()),
		ast.NewMemoryLayout(g.Indices()),
		g.Alpha, g.Beta)
}
