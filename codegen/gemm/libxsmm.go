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

package gemm

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/ajroetker/tensorgen/codegen"
)

// ErrGeneratorNotFound is returned when the libxsmm code generator cannot be
// launched.
var ErrGeneratorNotFound = errors.New("libxsmm generator not found")

// Libxsmm calls routines produced by libxsmm_gemm_generator. It only
// supports non-transposed operands with unit row strides, α = ±1 and
// β ∈ {0, 1}.
type Libxsmm struct {
	Arch codegen.Architecture

	// Executable is the generator binary name or path.
	Executable string
}

func (Libxsmm) Name() string { return "libxsmm" }

func (Libxsmm) Supports(call Call) bool {
	d := call.Descriptor
	return !call.TransA && !call.TransB &&
		call.A.RowStride == 1 && call.B.RowStride == 1 && call.C.RowStride == 1 &&
		(d.Alpha == 1 || d.Alpha == -1) &&
		(d.Beta == 0 || d.Beta == 1)
}

func (l Libxsmm) Emit(w *codegen.Writer, call Call, cache *codegen.RoutineCache) error {
	d := call.Descriptor
	if d.Prefetch == "" {
		d.Prefetch = "pfsigonly"
	}
	name := RoutineName(d)
	gen := &ExecuteLibxsmm{Arch: l.Arch, Desc: d, Executable: l.Executable}
	if err := cache.AddRoutine(name, gen); err != nil {
		return err
	}
	w.Line("%s(%s, %s, %s, nullptr, nullptr, nullptr);", name, call.A.Pointer, call.B.Pointer, call.C.Pointer)
	w.PPIfndef("NDEBUG", func() {
		w.Line("libxsmm_num_total_flops += %d;", d.Flops())
	})
	return nil
}

// RoutineName returns the libxsmm routine name for d. Equal descriptors get
// equal names.
func RoutineName(d Descriptor) string {
	alpha := "1"
	if d.Alpha != 1 {
		alpha = "_1"
	}
	return fmt.Sprintf("libxsmm_m%d_n%d_k%d_ldA%d_ldB%d_ldC%d_alpha%s_beta%d_alignedA%d_alignedC%d_%s",
		d.M, d.N, d.K, d.LDA, d.LDB, d.LDC, alpha, int(d.Beta), b2i(d.AlignedA), b2i(d.AlignedC), d.Prefetch)
}

// ExecuteLibxsmm generates one routine by running libxsmm_gemm_generator.
type ExecuteLibxsmm struct {
	Arch       codegen.Architecture
	Desc       Descriptor
	Executable string
}

func (e *ExecuteLibxsmm) Equal(other codegen.RoutineGenerator) bool {
	o, ok := other.(*ExecuteLibxsmm)
	return ok && e.Arch == o.Arch && e.Desc == o.Desc
}

func (e *ExecuteLibxsmm) Header(w *codegen.Writer) {
	w.PPIfndef("NDEBUG", func() {
		w.Line("extern long long libxsmm_num_total_flops;")
	})
	w.PPIf("defined(__SSE3__) || defined(__MIC__)", func() {
		w.IncludeSys("immintrin.h")
	})
}

// Args returns the generator command line after the executable.
func (e *ExecuteLibxsmm) Args(routineName, fileName string) []string {
	d := e.Desc
	return []string{
		"dense",
		fileName,
		routineName,
		strconv.Itoa(d.M),
		strconv.Itoa(d.N),
		strconv.Itoa(d.K),
		strconv.Itoa(d.LDA),
		strconv.Itoa(d.LDB),
		strconv.Itoa(d.LDC),
		strconv.FormatFloat(d.Alpha, 'g', -1, 64),
		strconv.FormatFloat(d.Beta, 'g', -1, 64),
		strconv.Itoa(b2i(d.AlignedA)),
		strconv.Itoa(b2i(d.AlignedC)),
		e.Arch.Name,
		d.Prefetch,
		string(e.Arch.Precision) + "P",
	}
}

func (e *ExecuteLibxsmm) Generate(ctx context.Context, routineName, fileName string) (string, error) {
	bin, err := exec.LookPath(e.Executable)
	if err != nil {
		return "", fmt.Errorf("Libxsmm executable %q not found. (Make sure to add the folder containing the executable to your PATH.): %w: %v", e.Executable, ErrGeneratorNotFound, err)
	}
	cmd := exec.CommandContext(ctx, bin, e.Args(routineName, fileName)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", e.Executable, err, string(output))
	}
	typ := e.Arch.Typename()
	return fmt.Sprintf("void %s(const %s* A, const %s* B, %s* C, const %s* A_prefetch, const %s* B_prefetch, const %s* C_prefetch);",
		routineName, typ, typ, typ, typ, typ, typ), nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
