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

package codegen

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Writer accumulates indented C++ source.
type Writer struct {
	buf    bytes.Buffer
	indent int
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Line writes one formatted line at the current indentation.
func (w *Writer) Line(format string, args ...any) {
	w.buf.WriteString(strings.Repeat("  ", w.indent))
	fmt.Fprintf(&w.buf, format, args...)
	w.buf.WriteByte('\n')
}

// Blank writes an empty line.
func (w *Writer) Blank() {
	w.buf.WriteByte('\n')
}

// Block writes "header {", the indented body and "}".
func (w *Writer) Block(header string, body func()) {
	w.Line("%s {", header)
	w.indent++
	body()
	w.indent--
	w.Line("}")
}

// Include writes a quoted #include.
func (w *Writer) Include(file string) {
	w.Line("#include %q", file)
}

// IncludeSys writes an angle-bracket #include.
func (w *Writer) IncludeSys(file string) {
	w.Line("#include <%s>", file)
}

// PPIf wraps body in #if cond / #endif.
func (w *Writer) PPIf(cond string, body func()) {
	w.Line("#if %s", cond)
	body()
	w.Line("#endif")
}

// PPIfndef wraps body in #ifndef name / #endif.
func (w *Writer) PPIfndef(name string, body func()) {
	w.Line("#ifndef %s", name)
	body()
	w.Line("#endif")
}

// HeaderGuard wraps body in an include guard.
func (w *Writer) HeaderGuard(name string, body func()) {
	w.Line("#ifndef %s", name)
	w.Line("#define %s", name)
	body()
	w.Line("#endif")
}

// String returns the source written so far.
func (w *Writer) String() string {
	return w.buf.String()
}

// Bytes returns the source written so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Float renders v as a C++ floating point literal.
func Float(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Struct writes "header {", the indented body and "};".
func (w *Writer) Struct(header string, body func()) {
	w.Line("%s {", header)
	w.indent++
	body()
	w.indent--
	w.Line("};")
}
