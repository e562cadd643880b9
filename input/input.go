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

// Package input reads tensorgen program files: YAML documents declaring
// tensors with optional sparsity patterns and the kernels computed on them.
//
//	tensors:
//	  - name: A
//	    shape: [56, 56]
//	  - name: F
//	    shape: [56, 56]
//	    group: [4]
//	    nonzeros: [[0, 0], [1, 1]]
//	kernels:
//	  - name: volume
//	    lhs: Q[kp]
//	    add: true
//	    terms:
//	      - A[kl] Q[lp]
//	  - name: flux
//	    space: [4]
//	    lhs: Q[kp]
//	    add: true
//	    terms:
//	      - -0.5 F($0)[kl] Q[lp]
//
// A term is an optional scalar followed by factors Name[idx] or
// Name(g0,...)[idx] for family members; "$k" stands for the k-th family
// parameter of the kernel.
package input

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/generator"
)

// TensorDecl is a tensor or tensor family declaration.
type TensorDecl struct {
	Name     string  `yaml:"name"`
	Shape    []int   `yaml:"shape"`
	Group    []int   `yaml:"group,omitempty"`
	Nonzeros [][]int `yaml:"nonzeros,omitempty"`
}

// KernelDecl is a kernel or, when Space is set, a kernel family.
type KernelDecl struct {
	Name  string   `yaml:"name"`
	LHS   string   `yaml:"lhs"`
	Add   bool     `yaml:"add,omitempty"`
	Terms []string `yaml:"terms"`
	Space []int    `yaml:"space,omitempty"`
}

type file struct {
	Tensors []TensorDecl `yaml:"tensors"`
	Kernels []KernelDecl `yaml:"kernels"`
}

// Program is a parsed program file with its tensors declared.
type Program struct {
	Kernels []KernelDecl

	tensors  map[string]*ast.Tensor
	families map[string]*ast.TensorFamily
	names    []string
}

// Load reads and parses the program file at path.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse parses a program document.
func Parse(data []byte) (*Program, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse program: %w", err)
	}
	p := &Program{
		Kernels:  f.Kernels,
		tensors:  make(map[string]*ast.Tensor),
		families: make(map[string]*ast.TensorFamily),
	}
	for _, d := range f.Tensors {
		if err := p.declare(d); err != nil {
			return nil, err
		}
	}
	for _, k := range p.Kernels {
		if k.Name == "" {
			return nil, fmt.Errorf("kernel without name")
		}
		if len(k.Terms) == 0 {
			return nil, fmt.Errorf("kernel %s: no terms", k.Name)
		}
	}
	return p, nil
}

func (p *Program) declare(d TensorDecl) error {
	if slices.Contains(p.names, d.Name) {
		return fmt.Errorf("tensor %s declared twice", d.Name)
	}
	var spp *ast.Mask
	if d.Nonzeros != nil {
		var err error
		if spp, err = ast.MaskFromNonzeros(d.Shape, d.Nonzeros); err != nil {
			return fmt.Errorf("tensor %s: %w", d.Name, err)
		}
	}
	if len(d.Group) > 0 {
		f, err := ast.NewTensorFamily(d.Name, d.Group, d.Shape, func([]int) *ast.Mask { return spp })
		if err != nil {
			return err
		}
		p.families[d.Name] = f
	} else {
		t, err := ast.NewTensor(d.Name, d.Shape, spp)
		if err != nil {
			return err
		}
		p.tensors[d.Name] = t
	}
	p.names = append(p.names, d.Name)
	return nil
}

// Tensor returns the tensor declared as name, or the family member
// name(group...).
func (p *Program) Tensor(name string, group ...int) (*ast.Tensor, error) {
	if f, ok := p.families[name]; ok {
		if len(group) != len(f.Dims()) {
			return nil, fmt.Errorf("tensor family %s needs %d coordinates, got %d", name, len(f.Dims()), len(group))
		}
		for d, g := range group {
			if g < 0 || g >= f.Dims()[d] {
				return nil, fmt.Errorf("tensor family %s: coordinate %v out of range %v", name, group, f.Dims())
			}
		}
		return f.At(group...), nil
	}
	if t, ok := p.tensors[name]; ok {
		if len(group) > 0 {
			return nil, fmt.Errorf("tensor %s is not a family", name)
		}
		return t, nil
	}
	return nil, p.unknown(name)
}

// unknown reports an undeclared name, suggesting the closest declared one.
func (p *Program) unknown(name string) error {
	best, bestDist := "", -1
	for _, n := range p.names {
		if d := levenshtein.ComputeDistance(name, n); bestDist < 0 || d < bestDist {
			best, bestDist = n, d
		}
	}
	if bestDist >= 0 && bestDist <= max(2, len(name)/3) {
		return fmt.Errorf("unknown tensor %q (did you mean %q?)", name, best)
	}
	return fmt.Errorf("unknown tensor %q", name)
}

var factorRE = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\(([^)]*)\))?\[([^\]]*)\]$`)

// leaf parses one factor such as "Q[kp]" or "F($0,1)[kl]".
func (p *Program) leaf(s string, params []int) (*ast.Leaf, error) {
	m := factorRE.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("malformed factor %q", s)
	}
	var group []int
	if m[2] != "" {
		for _, g := range strings.Split(m[2], ",") {
			v, err := coordinate(strings.TrimSpace(g), params)
			if err != nil {
				return nil, fmt.Errorf("factor %q: %w", s, err)
			}
			group = append(group, v)
		}
	}
	t, err := p.Tensor(m[1], group...)
	if err != nil {
		return nil, err
	}
	if len([]rune(m[3])) != len(t.Shape()) {
		return nil, fmt.Errorf("factor %q: %d indices for a rank %d tensor", s, len([]rune(m[3])), len(t.Shape()))
	}
	return t.At(m[3]), nil
}

func coordinate(s string, params []int) (int, error) {
	if rest, ok := strings.CutPrefix(s, "$"); ok {
		k, err := strconv.Atoi(rest)
		if err != nil || k < 0 || k >= len(params) {
			return 0, fmt.Errorf("bad parameter reference %q", s)
		}
		return params[k], nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad coordinate %q", s)
	}
	return v, nil
}

// term parses an optional scalar followed by one or more factors.
func (p *Program) term(s string, params []int) (ast.Node, error) {
	fields := strings.Fields(s)
	alpha := 1.0
	if len(fields) > 0 {
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			alpha = v
			fields = fields[1:]
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("term %q has no factors", s)
	}
	factors := make([]ast.Node, len(fields))
	for i, f := range fields {
		l, err := p.leaf(f, params)
		if err != nil {
			return nil, err
		}
		factors[i] = l
	}
	var n ast.Node = factors[0]
	if len(factors) > 1 {
		n = ast.Mul(factors...)
	}
	if alpha != 1 {
		n = ast.Scale(alpha, n)
	}
	return n, nil
}

// Assignment builds kernel k's assignment for the given family parameters.
func (p *Program) Assignment(k KernelDecl, params ...int) (*ast.Assignment, error) {
	lhs, err := p.leaf(k.LHS, params)
	if err != nil {
		return nil, fmt.Errorf("lhs: %w", err)
	}
	terms := make([]ast.Node, len(k.Terms))
	for i, s := range k.Terms {
		if terms[i], err = p.term(s, params); err != nil {
			return nil, err
		}
	}
	rhs := terms[0]
	if len(terms) > 1 {
		rhs = ast.Sum(terms...)
	}
	if k.Add {
		return ast.Accumulate(lhs, rhs), nil
	}
	return ast.Assign(lhs, rhs), nil
}

// AddTo compiles every kernel of the program into g.
func (p *Program) AddTo(g *generator.Generator) error {
	for _, k := range p.Kernels {
		if len(k.Space) == 0 {
			a, err := p.Assignment(k)
			if err != nil {
				return fmt.Errorf("kernel %s: %w", k.Name, err)
			}
			if err := g.Add(k.Name, a); err != nil {
				return err
			}
			continue
		}
		build := func(params ...int) (*ast.Assignment, error) {
			return p.Assignment(k, params...)
		}
		if err := g.AddFamily(k.Name, generator.SimpleParameterSpace(k.Space...), build); err != nil {
			return err
		}
	}
	return nil
}
