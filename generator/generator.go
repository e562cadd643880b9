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

// Package generator collects named kernels and kernel families, compiles
// them and writes the C++ program: kernel.h, kernel.cpp and the GEMM
// routines they call.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/codegen"
	"github.com/ajroetker/tensorgen/codegen/gemm"
	"github.com/ajroetker/tensorgen/internal/envconfig"
	"github.com/ajroetker/tensorgen/internal/workerpool"
	"github.com/ajroetker/tensorgen/transform"
)

// Options configures a Generator.
type Options struct {
	Compile transform.Options

	// Executable is the libxsmm generator; empty uses
	// envconfig.LibxsmmGenerator.
	Executable string

	// DisableLibxsmm emits every GEMM as an inline loop nest.
	DisableLibxsmm bool

	// Jobs bounds concurrent routine generation; 0 uses envconfig.Jobs.
	Jobs int
}

// Member is one compiled instance of a kernel.
type Member struct {
	// Params holds the family parameters, nil for a plain kernel.
	Params []int

	// Linear is the member's row-major position in the parameter space.
	Linear int

	Result *transform.Result
}

// Kernel is a named kernel or kernel family.
type Kernel struct {
	Name string

	// Space is nil for a plain kernel.
	Space ParameterSpace

	Members []*Member
}

// IsFamily reports whether k was added with AddFamily.
func (k *Kernel) IsFamily() bool {
	return k.Space != nil
}

// Generator is a program under construction.
type Generator struct {
	arch    codegen.Architecture
	opts    Options
	kernels *orderedmap.OrderedMap[string, *Kernel]
}

// New returns an empty generator for arch.
func New(arch codegen.Architecture, opts Options) *Generator {
	if opts.Executable == "" {
		opts.Executable = envconfig.LibxsmmGenerator()
	}
	if opts.Jobs == 0 {
		opts.Jobs = envconfig.Jobs()
	}
	return &Generator{arch: arch, opts: opts, kernels: orderedmap.New[string, *Kernel]()}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (g *Generator) checkName(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("kernel name %q is not a valid identifier", name)
	}
	if _, ok := g.kernels.Get(name); ok {
		return fmt.Errorf("kernel %s already defined", name)
	}
	return nil
}

// Add compiles a and registers it as kernel name.
func (g *Generator) Add(name string, a *ast.Assignment) error {
	if err := g.checkName(name); err != nil {
		return err
	}
	res, err := transform.Compile(a, g.opts.Compile)
	if err != nil {
		return fmt.Errorf("kernel %s: %w", name, err)
	}
	slog.Info("added kernel", "name", name, "gemms", len(transform.LoopOverGEMMs(res.Tree)), "cost", res.Cost)
	g.kernels.Set(name, &Kernel{Name: name, Members: []*Member{{Result: res}}})
	return nil
}

// AddFamily compiles one assignment per point of space and registers them
// as kernel family name. Members are compiled concurrently, so build must be
// safe to call from several goroutines.
func (g *Generator) AddFamily(name string, space ParameterSpace, build func(params ...int) (*ast.Assignment, error)) error {
	if err := g.checkName(name); err != nil {
		return err
	}
	points := space.Points()
	if len(points) == 0 {
		return fmt.Errorf("kernel family %s: empty parameter space", name)
	}
	k := &Kernel{Name: name, Space: space, Members: make([]*Member, len(points))}

	pool := workerpool.New(0)
	defer pool.Close()
	err := pool.Each(len(points), func(i int) error {
		p := points[i]
		a, err := build(p...)
		if err != nil {
			return fmt.Errorf("kernel %s%v: %w", name, p, err)
		}
		res, err := transform.Compile(a, g.opts.Compile)
		if err != nil {
			return fmt.Errorf("kernel %s%v: %w", name, p, err)
		}
		k.Members[i] = &Member{Params: p, Linear: linear(space.Dims(), p), Result: res}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("added kernel family", "name", name, "members", len(k.Members))
	g.kernels.Set(name, k)
	return nil
}

// Kernels returns the kernels in the order they were added.
func (g *Generator) Kernels() []*Kernel {
	out := make([]*Kernel, 0, g.kernels.Len())
	for pair := g.kernels.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Architecture returns the target architecture.
func (g *Generator) Architecture() codegen.Architecture {
	return g.arch
}

func (g *Generator) backends() []gemm.Backend {
	if g.opts.DisableLibxsmm {
		return nil
	}
	return []gemm.Backend{gemm.Libxsmm{Arch: g.arch, Executable: g.opts.Executable}}
}

// Generate writes the program into dir and returns the written files.
func (g *Generator) Generate(ctx context.Context, dir string) ([]string, error) {
	cache := codegen.NewRoutineCache()
	prog, err := g.emit(cache)
	if err != nil {
		return nil, err
	}
	files, err := prog.write(dir)
	if err != nil {
		return nil, err
	}
	routines, err := cache.Generate(ctx, dir, g.opts.Jobs)
	if err != nil {
		return nil, err
	}
	slog.Info("generated program", "dir", dir, "kernels", g.kernels.Len(), "routines", cache.Len())
	return append(files, routines...), nil
}
