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
	"fmt"

	"github.com/ajroetker/tensorgen/codegen"
)

// Generic emits an inline triple loop. It handles any strides, transposes
// and scalars.
type Generic struct{}

func (Generic) Name() string { return "generic" }

func (Generic) Supports(Call) bool { return true }

func (Generic) Emit(w *codegen.Writer, call Call, _ *codegen.RoutineCache) error {
	d := call.Descriptor
	loop := func(v string, n int, body func()) {
		w.Block(fmtFor(v, n), body)
	}
	switch d.Beta {
	case 1:
	case 0:
		loop("_n", d.N, func() {
			loop("_m", d.M, func() {
				w.Line("%s = 0.0;", call.C.at("_m", "_n"))
			})
		})
	default:
		loop("_n", d.N, func() {
			loop("_m", d.M, func() {
				w.Line("%s *= %s;", call.C.at("_m", "_n"), codegen.Float(d.Beta))
			})
		})
	}

	scale := ""
	if d.Alpha != 1 {
		scale = codegen.Float(d.Alpha) + " * "
	}
	loop("_n", d.N, func() {
		loop("_k", d.K, func() {
			loop("_m", d.M, func() {
				w.Line("%s += %s%s * %s;", call.C.at("_m", "_n"), scale, call.A.at("_m", "_k"), call.B.at("_k", "_n"))
			})
		})
	})
	return nil
}

func fmtFor(v string, n int) string {
	return fmt.Sprintf("for (int %[1]s = 0; %[1]s < %[2]d; ++%[1]s)", v, n)
}
