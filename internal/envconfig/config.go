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

// Package envconfig reads tensorgen settings from the environment.
//
// Every getter re-reads the environment, so tests can use t.Setenv.
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Var returns the trimmed value of an environment variable with surrounding
// quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// LogLevel returns the log level selected by TENSORGEN_DEBUG.
// 0/false is INFO (default), 1/true is DEBUG, 2 is TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("TENSORGEN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// LibxsmmGenerator is the executable invoked to generate GEMM routines.
// Configurable via TENSORGEN_LIBXSMM_GENERATOR.
func LibxsmmGenerator() string {
	if s := Var("TENSORGEN_LIBXSMM_GENERATOR"); s != "" {
		return s
	}
	return "libxsmm_gemm_generator"
}

// Arch is the architecture name override (TENSORGEN_ARCH). Empty means
// detect from the host CPU.
func Arch() string {
	return Var("TENSORGEN_ARCH")
}

// MaxPermuteIndices bounds the permutation search: results with more indices
// than this are only tried in their declared order.
// Configurable via TENSORGEN_MAX_PERMUTE_INDICES, default 6.
var MaxPermuteIndices = Int("TENSORGEN_MAX_PERMUTE_INDICES", 6)

// Jobs bounds how many routine generator processes run at once
// (TENSORGEN_JOBS), default GOMAXPROCS.
var Jobs = Int("TENSORGEN_JOBS", runtime.GOMAXPROCS(0))

// Int returns a getter for a positive integer variable with a default.
func Int(key string, defaultValue int) func() int {
	return func() int {
		if s := Var(key); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil && n > 0 {
				return int(n)
			}
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
		}
		return defaultValue
	}
}

// EnvVar describes one configuration variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns the current configuration keyed by variable name.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TENSORGEN_DEBUG":               {"TENSORGEN_DEBUG", LogLevel(), "Show additional debug information (e.g. TENSORGEN_DEBUG=1)"},
		"TENSORGEN_LIBXSMM_GENERATOR":   {"TENSORGEN_LIBXSMM_GENERATOR", LibxsmmGenerator(), "GEMM generator executable"},
		"TENSORGEN_ARCH":                {"TENSORGEN_ARCH", Arch(), "Target architecture (snb, hsw, skx, knl, noarch)"},
		"TENSORGEN_MAX_PERMUTE_INDICES": {"TENSORGEN_MAX_PERMUTE_INDICES", MaxPermuteIndices(), "Largest index count explored by the permutation search"},
		"TENSORGEN_JOBS":                {"TENSORGEN_JOBS", Jobs(), "Concurrent routine generator processes"},
	}
}
