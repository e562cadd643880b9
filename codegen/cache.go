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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// RoutineGenerator produces one external routine, such as a libxsmm GEMM.
type RoutineGenerator interface {
	// Equal reports whether other generates the same routine.
	Equal(other RoutineGenerator) bool

	// Header writes the declarations the routine needs into gemms.h.
	Header(w *Writer)

	// Generate writes the routine into fileName and returns its C++
	// declaration.
	Generate(ctx context.Context, routineName, fileName string) (string, error)
}

// RoutineCache collects the routines referenced by generated kernels.
// Routines are deduplicated by name. It is not safe for concurrent AddRoutine
// calls.
type RoutineCache struct {
	routines map[string]RoutineGenerator
}

// NewRoutineCache returns an empty cache.
func NewRoutineCache() *RoutineCache {
	return &RoutineCache{routines: make(map[string]RoutineGenerator)}
}

// AddRoutine registers gen under name. Registering an equal generator twice
// is a no-op; a different generator under an existing name is an error.
func (c *RoutineCache) AddRoutine(name string, gen RoutineGenerator) error {
	if prev, ok := c.routines[name]; ok {
		if !prev.Equal(gen) {
			return fmt.Errorf("routine %s registered twice with different generators", name)
		}
		return nil
	}
	c.routines[name] = gen
	return nil
}

// Len returns the number of distinct routines.
func (c *RoutineCache) Len() int {
	return len(c.routines)
}

// Names returns the routine names in sorted order.
func (c *RoutineCache) Names() []string {
	names := make([]string, 0, len(c.routines))
	for name := range c.routines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Routine returns the generator registered under name.
func (c *RoutineCache) Routine(name string) (RoutineGenerator, bool) {
	gen, ok := c.routines[name]
	return gen, ok
}

// Generate writes every routine into dir/gemms/<name>.cpp, running up to
// jobs generators at once, and then writes dir/gemms.h declaring them all.
// It returns the paths of the written files.
func (c *RoutineCache) Generate(ctx context.Context, dir string, jobs int) ([]string, error) {
	routineDir := filepath.Join(dir, "gemms")
	if err := os.MkdirAll(routineDir, 0o755); err != nil {
		return nil, fmt.Errorf("create routine directory: %w", err)
	}

	names := c.Names()
	decls := make([]string, len(names))
	files := make([]string, len(names))

	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, name := range names {
		files[i] = filepath.Join(routineDir, name+".cpp")
		g.Go(func() error {
			// Some generators append to an existing file.
			if err := os.Remove(files[i]); err != nil && !os.IsNotExist(err) {
				return err
			}
			slog.Debug("generating routine", "name", name, "file", files[i])
			decl, err := c.routines[name].Generate(ctx, name, files[i])
			if err != nil {
				return fmt.Errorf("routine %s: %w", name, err)
			}
			decls[i] = decl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	header := filepath.Join(dir, "gemms.h")
	if err := os.WriteFile(header, c.header(decls), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", header, err)
	}
	return append(files, header), nil
}

func (c *RoutineCache) header(decls []string) []byte {
	w := NewWriter()
	w.HeaderGuard("TENSORGEN_GEMMS_H_", func() {
		// Equal generators share their header lines; emit each block once.
		seen := make(map[string]bool)
		for _, name := range c.Names() {
			hw := NewWriter()
			c.routines[name].Header(hw)
			if block := hw.String(); !seen[block] {
				seen[block] = true
				w.buf.WriteString(block)
			}
		}
		for _, decl := range decls {
			w.Line("%s", strings.TrimSpace(decl))
		}
	})
	return w.Bytes()
}
