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
	"fmt"
	"slices"
	"strings"
)

// Node is an expression tree node. The set of node types is closed: *Leaf,
// *Add, *Contraction, *Assignment and *LoopOverGEMM. Passes switch over it
// exhaustively.
//
// Nodes may be shared between expressions and are treated as immutable.
// Passes annotate nodes through WithIndices/WithEqSpp/WithChildren, which
// return modified copies.
type Node interface {
	// Indices is the output index set, populated by index deduction.
	Indices() Indices

	// EqSpp is the equivalent sparsity pattern, populated by sparsity
	// propagation. Nil before that pass.
	EqSpp() *Mask

	// Children returns the operand nodes.
	Children() []Node

	String() string

	slots() *nodeSlots
	clone() Node
}

// nodeSlots holds the annotations every node owns.
type nodeSlots struct {
	indices Indices
	eqspp   *Mask
}

func (s *nodeSlots) Indices() Indices  { return s.indices }
func (s *nodeSlots) EqSpp() *Mask      { return s.eqspp }
func (s *nodeSlots) slots() *nodeSlots { return s }

// WithIndices returns a copy of n annotated with idx.
func WithIndices[N Node](n N, idx Indices) N {
	c := n.clone().(N)
	c.slots().indices = idx
	return c
}

// WithEqSpp returns a copy of n annotated with the sparsity pattern m.
func WithEqSpp[N Node](n N, m *Mask) N {
	c := n.clone().(N)
	c.slots().eqspp = m
	return c
}

// WithChildren returns a copy of n whose operands are replaced by children,
// which must match n's arity.
func WithChildren(n Node, children []Node) Node {
	c := n.clone()
	switch c := c.(type) {
	case *Leaf:
	case *Add:
		c.Terms = slices.Clone(children)
	case *Contraction:
		c.Operands = slices.Clone(children)
	case *Assignment:
		c.LHS = children[0].(*Leaf)
		c.RHS = children[1]
	case *LoopOverGEMM:
		c.Left, c.Right = children[0], children[1]
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
	return c
}

// Leaf references a tensor with one index name per dimension.
type Leaf struct {
	nodeSlots

	Tensor *Tensor

	// IndexNames relabels the tensor dimensions, e.g. "kp".
	IndexNames string

	// Alpha is a scalar factor, 1 unless scaled.
	Alpha float64
}

func (l *Leaf) Children() []Node { return nil }
func (l *Leaf) clone() Node      { c := *l; return &c }

func (l *Leaf) String() string {
	return scaled(l.Alpha, fmt.Sprintf("%s[%s]", l.Tensor.Name(), l.IndexNames))
}

// Add sums two or more operands with identical index sets.
type Add struct {
	nodeSlots
	Terms []Node
}

func (a *Add) Children() []Node { return a.Terms }
func (a *Add) clone() Node      { c := *a; c.Terms = slices.Clone(a.Terms); return &c }

func (a *Add) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " + ") + ")"
}

// Contraction multiplies its operands and sums over every index that is
// shared by operands but absent from the result. Before strength reduction
// it may have any number of operands; afterwards exactly two.
type Contraction struct {
	nodeSlots
	Operands []Node
	Alpha    float64
}

func (c *Contraction) Children() []Node { return c.Operands }
func (c *Contraction) clone() Node      { d := *c; d.Operands = slices.Clone(c.Operands); return &d }

func (c *Contraction) String() string {
	parts := make([]string, len(c.Operands))
	for i, o := range c.Operands {
		parts[i] = o.String()
	}
	return scaled(c.Alpha, "("+strings.Join(parts, " * ")+")")
}

// ContractionDescriptor describes a binary product.
type ContractionDescriptor struct {
	Left, Right Node
	Result      Indices

	// Bound holds the indices present in both operands but not in Result,
	// in the order of the left operand.
	Bound Indices
}

// Descriptor describes a deduced binary contraction.
func (c *Contraction) Descriptor() (ContractionDescriptor, error) {
	if len(c.Operands) != 2 {
		return ContractionDescriptor{}, fmt.Errorf("contraction %s has %d operands, want 2", c, len(c.Operands))
	}
	l, r := c.Operands[0].Indices(), c.Operands[1].Indices()
	bound := l.Select(l.Intersect(r)).Sub(c.Indices())
	return ContractionDescriptor{Left: c.Operands[0], Right: c.Operands[1], Result: c.Indices(), Bound: bound}, nil
}

// Assignment binds a tensor slice to an expression. When Accumulate is set
// the result is added to the current contents of the left-hand side.
type Assignment struct {
	nodeSlots
	LHS        *Leaf
	RHS        Node
	Accumulate bool
}

func (a *Assignment) Children() []Node { return []Node{a.LHS, a.RHS} }
func (a *Assignment) clone() Node      { c := *a; return &c }

func (a *Assignment) String() string {
	op := "<="
	if a.Accumulate {
		op = "+="
	}
	return fmt.Sprintf("%s %s %s", a.LHS, op, a.RHS)
}

// Loop is an outer loop of a loop-over-GEMM.
type Loop struct {
	Index rune
	Size  int

	// Summed is set for contracted indices that were not absorbed into K;
	// iterations accumulate into the same result block.
	Summed bool
}

// GEMMShape holds the concrete GEMM parameters of a loop-over-GEMM.
// Leading dimensions are column-major strides in elements.
type GEMMShape struct {
	M, N, K       int
	LDA, LDB, LDC int
}

// LoopOverGEMM is an executable contraction: a GEMM over the fused index
// groups M, N and K, wrapped in loops over all remaining indices.
type LoopOverGEMM struct {
	nodeSlots
	Left, Right Node

	// M, N and K are the fused index groups in memory order.
	M, N, K string

	TransA, TransB bool
	Cost           Cost
	Shape          GEMMShape
	Loops          []Loop

	// Alpha scales the product; Beta scales the prior result.
	Alpha, Beta float64
}

func (g *LoopOverGEMM) Children() []Node { return []Node{g.Left, g.Right} }
func (g *LoopOverGEMM) clone() Node {
	c := *g
	c.Loops = slices.Clone(g.Loops)
	return &c
}

func (g *LoopOverGEMM) String() string {
	return fmt.Sprintf("LoG[%s](%s, %s; m=%s n=%s k=%s)", g.Indices(), g.Left, g.Right, g.M, g.N, g.K)
}

// NewLoopOverGEMM builds the candidate computing result = left * right with
// the given fused groups. The operands must be deduced and the groups
// non-empty: m occurs in left and result, n in right and result, k in both
// operands.
func NewLoopOverGEMM(result Indices, left, right Node, m, n, k string) *LoopOverGEMM {
	a, b := left.Indices(), right.Indices()
	m0, n0, k0 := []rune(m)[0], []rune(n)[0], []rune(k)[0]

	g := &LoopOverGEMM{Left: left, Right: right, M: m, N: n, K: k, Alpha: 1}
	g.indices = result
	g.TransA = a.Find(m0) > a.Find(k0)
	g.TransB = b.Find(k0) > b.Find(n0)

	aLead, bLead := m0, k0
	if g.TransA {
		aLead = k0
	}
	if g.TransB {
		bLead = n0
	}
	stride := 0
	if a.Find(aLead) != 0 {
		stride++
	}
	if b.Find(bLead) != 0 {
		stride++
	}
	g.Cost = Cost{Stride: stride, FusedIndices: len(m) + len(n) + len(k)}
	if g.TransA {
		g.Cost.LeftTranspose = 1
	}
	if g.TransB {
		g.Cost.RightTranspose = 1
	}

	la, lb, lc := NewMemoryLayout(a), NewMemoryLayout(b), NewMemoryLayout(result)
	g.Shape = GEMMShape{
		M:   product(result, m),
		N:   product(result, n),
		K:   product(a, k),
		LDC: lc.Stride(n0),
	}
	if g.TransA {
		g.Shape.LDA = la.Stride(m0)
	} else {
		g.Shape.LDA = la.Stride(k0)
	}
	if g.TransB {
		g.Shape.LDB = lb.Stride(k0)
	} else {
		g.Shape.LDB = lb.Stride(n0)
	}

	inGEMM := []rune(m + n + k)
	for _, r := range result.names {
		if !slices.Contains(inGEMM, r) {
			g.Loops = append(g.Loops, Loop{Index: r, Size: result.Size(r)})
		}
	}
	for _, r := range a.names {
		if b.Contains(r) && !result.Contains(r) && !slices.Contains(inGEMM, r) {
			g.Loops = append(g.Loops, Loop{Index: r, Size: a.Size(r), Summed: true})
		}
	}
	return g
}

// HasSummedLoops reports whether some loop accumulates into the result.
func (g *LoopOverGEMM) HasSummedLoops() bool {
	return slices.ContainsFunc(g.Loops, func(l Loop) bool { return l.Summed })
}

// Flops returns the floating point operation count of the whole loop nest.
func (g *LoopOverGEMM) Flops() int {
	f := 2 * g.Shape.M * g.Shape.N * g.Shape.K
	for _, l := range g.Loops {
		f *= l.Size
	}
	return f
}

func product(idx Indices, names string) int {
	p := 1
	for _, s := range idx.SubShape(names) {
		p *= s
	}
	return p
}

func scaled(alpha float64, s string) string {
	if alpha == 1 {
		return s
	}
	return fmt.Sprintf("%g*%s", alpha, s)
}
