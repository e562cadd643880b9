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

// Package gemm emits the matrix multiplications of loop-over-GEMM plans,
// either as calls to generated libxsmm routines or as inline loop nests.
package gemm

import (
	"fmt"

	"github.com/ajroetker/tensorgen/codegen"
)

// Descriptor holds the parameters of one column-major GEMM
// C = Alpha*A*B + Beta*C with A of size M×K, B of size K×N and C of size M×N.
type Descriptor struct {
	M, N, K       int
	LDA, LDB, LDC int
	Alpha, Beta   float64

	AlignedA, AlignedC bool

	// Prefetch is the libxsmm prefetch strategy; "pfsigonly" keeps the
	// prefetch arguments in the signature without using them.
	Prefetch string
}

// Flops returns the floating point operations of one call.
func (d Descriptor) Flops() int {
	return 2 * d.M * d.N * d.K
}

// Operand is a matrix argument: a C++ pointer expression plus the element
// strides between consecutive rows and columns of the logical matrix.
type Operand struct {
	Pointer   string
	RowStride int
	ColStride int
}

func (o Operand) at(row, col string) string {
	return fmt.Sprintf("(%s)[%s*%d + %s*%d]", o.Pointer, row, o.RowStride, col, o.ColStride)
}

// Call is one GEMM invocation. A and B are described as the logical M×K and
// K×N matrices; TransA and TransB tell whether their storage is transposed.
type Call struct {
	Descriptor
	A, B, C        Operand
	TransA, TransB bool
}

// Backend emits GEMM calls.
type Backend interface {
	// Name identifies the backend in logs and plan output.
	Name() string

	// Supports reports whether the backend can emit call.
	Supports(call Call) bool

	// Emit writes the code for call, registering any routine it needs in
	// cache.
	Emit(w *codegen.Writer, call Call, cache *codegen.RoutineCache) error
}

// Select returns the first backend supporting call. Generic supports every
// call, so it is the fallback.
func Select(call Call, backends ...Backend) Backend {
	for _, b := range backends {
		if b.Supports(call) {
			return b
		}
	}
	return Generic{}
}
