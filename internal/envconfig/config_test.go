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

package envconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVar(t *testing.T) {
	t.Setenv("TENSORGEN_ARCH", ` "hsw" `)
	assert.Equal(t, "hsw", Var("TENSORGEN_ARCH"))
	assert.Equal(t, "hsw", Arch())
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}
	for value, want := range tests {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TENSORGEN_DEBUG", value)
			assert.Equal(t, want, LogLevel())
		})
	}
}

func TestLibxsmmGenerator(t *testing.T) {
	t.Setenv("TENSORGEN_LIBXSMM_GENERATOR", "")
	assert.Equal(t, "libxsmm_gemm_generator", LibxsmmGenerator())
	t.Setenv("TENSORGEN_LIBXSMM_GENERATOR", "/opt/libxsmm/bin/libxsmm_gemm_generator")
	assert.Equal(t, "/opt/libxsmm/bin/libxsmm_gemm_generator", LibxsmmGenerator())
}

func TestInt(t *testing.T) {
	get := Int("TENSORGEN_TEST_INT", 6)
	tests := map[string]int{
		"":    6,
		"4":   4,
		"0":   6,
		"-3":  6,
		"six": 6,
	}
	for value, want := range tests {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TENSORGEN_TEST_INT", value)
			assert.Equal(t, want, get())
		})
	}
}

func TestAsMap(t *testing.T) {
	t.Setenv("TENSORGEN_JOBS", "3")
	t.Setenv("TENSORGEN_MAX_PERMUTE_INDICES", "")
	m := AsMap()
	assert.Len(t, m, 5)
	assert.Equal(t, 3, m["TENSORGEN_JOBS"].Value)
	assert.Equal(t, 6, m["TENSORGEN_MAX_PERMUTE_INDICES"].Value)
	for key, v := range m {
		assert.Equal(t, key, v.Name)
		assert.NotEmpty(t, v.Description)
	}
}
