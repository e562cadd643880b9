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
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/codegen"
)

// tensorParam is a kernel struct member holding a tensor pointer, or an
// array of pointers for a tensor family.
type tensorParam struct {
	name       string
	familySize int
	written    bool
}

type memberCode struct {
	hardwareFlops int
	nonzeroFlops  int
}

type kernelCode struct {
	kernel  *Kernel
	params  []*tensorParam
	members map[int]memberCode
}

type program struct {
	arch     codegen.Architecture
	source   *codegen.Writer
	kernels  []*kernelCode
	routines int
}

// emit writes kernel.cpp into a buffer and registers the GEMM routines it
// calls in cache.
func (g *Generator) emit(cache *codegen.RoutineCache) (*program, error) {
	p := &program{arch: g.arch, source: codegen.NewWriter()}
	w := p.source
	w.Include("kernel.h")
	w.Include("gemms.h")
	w.IncludeSys("cassert")
	w.Blank()

	for _, k := range g.Kernels() {
		kc := &kernelCode{kernel: k, members: make(map[int]memberCode)}
		if err := kc.collectParams(); err != nil {
			return nil, fmt.Errorf("kernel %s: %w", k.Name, err)
		}
		for _, m := range k.Members {
			fn := "execute"
			if k.IsFamily() {
				fn = fmt.Sprintf("execute%d", m.Linear)
			}
			e := newEmitter(w, g.arch, cache, g.backends())
			var err error
			w.Block(fmt.Sprintf("void kernel::%s::%s()", k.Name, fn), func() {
				for _, t := range tensorsOf(m.Result.Tree) {
					w.Line("assert(%s != nullptr);", tensorExpr(t))
				}
				err = e.assignment(m.Result.Tree)
			})
			if err != nil {
				return nil, fmt.Errorf("kernel %s: %w", k.Name, err)
			}
			kc.members[m.Linear] = memberCode{hardwareFlops: e.hardwareFlops, nonzeroFlops: AssignmentNonzeroFlops(m.Result.Tree)}
		}
		p.kernels = append(p.kernels, kc)
	}
	p.routines = cache.Len()
	if p.routines > 0 {
		w.PPIfndef("NDEBUG", func() {
			w.Line("long long libxsmm_num_total_flops = 0;")
		})
	}
	return p, nil
}

// tensorsOf lists the distinct tensors an implemented assignment reads or
// writes, left-hand side first.
func tensorsOf(a *ast.Assignment) []*ast.Tensor {
	var out []*ast.Tensor
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		if l, ok := n.(*ast.Leaf); ok && !slices.Contains(out, l.Tensor) {
			out = append(out, l.Tensor)
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(a)
	return out
}

func (kc *kernelCode) collectParams() error {
	byName := make(map[string]*tensorParam)
	for _, m := range kc.kernel.Members {
		for _, t := range tensorsOf(m.Result.Tree) {
			p, ok := byName[t.BaseName()]
			if !ok {
				p = &tensorParam{name: t.BaseName(), familySize: t.FamilySize()}
				byName[p.name] = p
				kc.params = append(kc.params, p)
			} else if p.familySize != t.FamilySize() {
				return fmt.Errorf("tensor %s is used both as a family and as a plain tensor", p.name)
			}
			if t == m.Result.Tree.LHS.Tensor {
				p.written = true
			}
		}
	}
	return nil
}

func (p *program) write(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	header := filepath.Join(dir, "kernel.h")
	source := filepath.Join(dir, "kernel.cpp")
	if err := os.WriteFile(header, p.header(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", header, err)
	}
	if err := os.WriteFile(source, p.source.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", source, err)
	}
	return []string{header, source}, nil
}

func (p *program) header() []byte {
	w := codegen.NewWriter()
	w.HeaderGuard("TENSORGEN_KERNEL_H_", func() {
		w.Block("namespace kernel", func() {
			for _, kc := range p.kernels {
				kc.declare(w, p.arch)
			}
		})
	})
	return w.Bytes()
}

func (kc *kernelCode) declare(w *codegen.Writer, arch codegen.Architecture) {
	k := kc.kernel
	w.Struct("struct "+k.Name, func() {
		if !k.IsFamily() {
			m := kc.members[0]
			w.Line("constexpr static unsigned long const NonZeroFlops = %d;", m.nonzeroFlops)
			w.Line("constexpr static unsigned long const HardwareFlops = %d;", m.hardwareFlops)
		} else {
			n := size(k.Space.Dims())
			nz, hw := make([]string, n), make([]string, n)
			for i := range n {
				m := kc.members[i]
				nz[i], hw[i] = fmt.Sprint(m.nonzeroFlops), fmt.Sprint(m.hardwareFlops)
			}
			w.Line("constexpr static unsigned long const NonZeroFlops[] = {%s};", strings.Join(nz, ", "))
			w.Line("constexpr static unsigned long const HardwareFlops[] = {%s};", strings.Join(hw, ", "))
		}
		w.Blank()

		for _, p := range kc.params {
			qual := arch.Typename() + " const*"
			if p.written {
				qual = arch.Typename() + "*"
			}
			if p.familySize > 0 {
				w.Line("%s %s[%d]{};", qual, p.name, p.familySize)
			} else {
				w.Line("%s %s{};", qual, p.name)
			}
		}
		w.Blank()

		if !k.IsFamily() {
			w.Line("void execute();")
			return
		}
		kc.declareFamily(w)
	})
}

func (kc *kernelCode) declareFamily(w *codegen.Writer) {
	k := kc.kernel
	dims := k.Space.Dims()
	ptrs := make([]string, size(dims))
	for i := range ptrs {
		ptrs[i] = "nullptr"
	}
	for _, m := range k.Members {
		w.Line("void execute%d();", m.Linear)
		ptrs[m.Linear] = fmt.Sprintf("&%s::execute%d", k.Name, m.Linear)
	}
	w.Line("using member_function_ptr = void (%s::*)();", k.Name)
	w.Line("constexpr static member_function_ptr ExecutePtrs[] = {%s};", strings.Join(ptrs, ", "))

	args := make([]string, len(dims))
	names := make([]string, len(dims))
	lin := ""
	for d := range dims {
		names[d] = fmt.Sprintf("i%d", d)
		args[d] = "unsigned " + names[d]
		if d == 0 {
			lin = names[d]
		} else {
			lin = fmt.Sprintf("(%s)*%d + %s", lin, dims[d], names[d])
		}
	}
	w.Block(fmt.Sprintf("constexpr static member_function_ptr findExecute(%s)", strings.Join(args, ", ")), func() {
		w.Line("return ExecutePtrs[%s];", lin)
	})
	w.Block(fmt.Sprintf("inline void execute(%s)", strings.Join(args, ", ")), func() {
		w.Line("(this->*findExecute(%s))();", strings.Join(names, ", "))
	})
}
