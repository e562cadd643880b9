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

// Package codegen holds the pieces shared by the C++ kernel emitter and the
// GEMM backends: target architectures, the C++ writer and the routine cache.
package codegen

import (
	"fmt"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sys/cpu"

	"github.com/ajroetker/tensorgen/internal/envconfig"
)

// Architecture describes the code generation target.
type Architecture struct {
	// Name is the architecture name understood by the GEMM generator
	// (wsm, snb, hsw, skx, knl, noarch).
	Name string

	// Precision is 'D' for double or 'S' for single precision.
	Precision byte

	// Alignment is the vector register width in bytes.
	Alignment int
}

var alignments = map[string]int{
	"noarch": 16,
	"wsm":    16,
	"snb":    32,
	"hsw":    32,
	"skx":    64,
	"knl":    64,
}

// AvailableArchitectures returns the supported architecture names.
func AvailableArchitectures() []string {
	names := make([]string, 0, len(alignments))
	for name := range alignments {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetArchitecture returns the architecture for a name and a precision
// ("d"/"double" or "s"/"single"/"float", case-insensitive).
func GetArchitecture(name, precision string) (Architecture, error) {
	align, ok := alignments[strings.ToLower(name)]
	if !ok {
		return Architecture{}, fmt.Errorf("unknown architecture %q (available: %s)", name, strings.Join(AvailableArchitectures(), ", "))
	}
	var p byte
	switch strings.ToLower(precision) {
	case "d", "double", "":
		p = 'D'
	case "s", "single", "float":
		p = 'S'
	default:
		return Architecture{}, fmt.Errorf("unknown precision %q", precision)
	}
	return Architecture{Name: strings.ToLower(name), Precision: p, Alignment: align}, nil
}

// DefaultArchitecture returns the TENSORGEN_ARCH architecture, or the best
// one the host CPU supports, in double precision.
func DefaultArchitecture() Architecture {
	name := envconfig.Arch()
	if name == "" {
		name = detectArchitecture()
	}
	arch, err := GetArchitecture(name, "double")
	if err != nil {
		arch, _ = GetArchitecture("noarch", "double")
	}
	return arch
}

func detectArchitecture() string {
	if runtime.GOARCH != "amd64" {
		return "noarch"
	}
	switch {
	case cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW:
		return "skx"
	case cpu.X86.HasAVX512F:
		return "knl"
	case cpu.X86.HasAVX2 && cpu.X86.HasFMA:
		return "hsw"
	case cpu.X86.HasAVX:
		return "snb"
	case cpu.X86.HasSSE42:
		return "wsm"
	default:
		return "noarch"
	}
}

// Typename returns the C++ element type.
func (a Architecture) Typename() string {
	if a.Precision == 'S' {
		return "float"
	}
	return "double"
}

// BytesPerReal returns the element size in bytes.
func (a Architecture) BytesPerReal() int {
	if a.Precision == 'S' {
		return 4
	}
	return 8
}

// AlignedElements returns how many elements fill one aligned vector.
func (a Architecture) AlignedElements() int {
	return a.Alignment / a.BytesPerReal()
}

// Aligned reports whether an element offset keeps vector alignment.
func (a Architecture) Aligned(elements int) bool {
	return (elements*a.BytesPerReal())%a.Alignment == 0
}

func (a Architecture) String() string {
	return fmt.Sprintf("%s/%cP", a.Name, a.Precision)
}
