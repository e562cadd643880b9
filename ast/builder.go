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
	"strings"
)

// Mul builds the product of its factors. Nested products are flattened into
// a single n-ary contraction and their scalars multiplied.
func Mul(factors ...Node) *Contraction {
	c := &Contraction{Alpha: 1}
	for _, f := range factors {
		if p, ok := f.(*Contraction); ok {
			c.Operands = append(c.Operands, p.Operands...)
			c.Alpha *= p.Alpha
			continue
		}
		c.Operands = append(c.Operands, f)
	}
	return c
}

// Sum builds the sum of its terms. Nested sums are flattened.
func Sum(terms ...Node) *Add {
	a := &Add{}
	for _, t := range terms {
		if s, ok := t.(*Add); ok {
			a.Terms = append(a.Terms, s.Terms...)
			continue
		}
		a.Terms = append(a.Terms, t)
	}
	return a
}

// Scale multiplies an expression by a scalar. Sums are scaled termwise.
func Scale(alpha float64, n Node) Node {
	switch n := n.(type) {
	case *Leaf:
		c := n.clone().(*Leaf)
		c.Alpha *= alpha
		return c
	case *Contraction:
		c := n.clone().(*Contraction)
		c.Alpha *= alpha
		return c
	case *Add:
		terms := make([]Node, len(n.Terms))
		for i, t := range n.Terms {
			terms[i] = Scale(alpha, t)
		}
		return &Add{Terms: terms}
	default:
		panic(fmt.Sprintf("cannot scale %T", n))
	}
}

// Assign overwrites lhs with rhs.
func Assign(lhs *Leaf, rhs Node) *Assignment {
	return &Assignment{LHS: lhs, RHS: rhs}
}

// Accumulate adds rhs to lhs.
func Accumulate(lhs *Leaf, rhs Node) *Assignment {
	return &Assignment{LHS: lhs, RHS: rhs, Accumulate: true}
}

// Format renders a tree one node per line, children indented below their
// parent, with each node's deduced indices.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n, 0)
	return sb.String()
}

func format(sb *strings.Builder, n Node, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	switch n := n.(type) {
	case *Leaf:
		fmt.Fprintf(sb, "%s", n)
	case *Add:
		sb.WriteString("Add")
	case *Contraction:
		sb.WriteString(scaled(n.Alpha, "Contraction"))
	case *Assignment:
		if n.Accumulate {
			sb.WriteString("Accumulate")
		} else {
			sb.WriteString("Assign")
		}
	case *LoopOverGEMM:
		fmt.Fprintf(sb, "LoopOverGEMM m=%s n=%s k=%s transA=%t transB=%t cost=%s", n.M, n.N, n.K, n.TransA, n.TransB, n.Cost)
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
	fmt.Fprintf(sb, ": %s\n", n.Indices())
	for _, c := range n.Children() {
		format(sb, c, depth+1)
	}
}
