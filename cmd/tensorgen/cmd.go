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

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ajroetker/tensorgen/ast"
	"github.com/ajroetker/tensorgen/codegen"
	"github.com/ajroetker/tensorgen/codegen/gemm"
	"github.com/ajroetker/tensorgen/generator"
	"github.com/ajroetker/tensorgen/input"
	"github.com/ajroetker/tensorgen/internal/envconfig"
	"github.com/ajroetker/tensorgen/transform"
)

// NewCLI builds the tensorgen command tree.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "tensorgen",
		Short:         "Tensor contraction to loop-over-GEMM compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	compileCmd := &cobra.Command{
		Use:   "compile PROGRAM",
		Short: "Generate C++ kernels and GEMM routines for a program",
		Args:  cobra.ExactArgs(1),
		RunE:  CompileHandler,
	}
	compileCmd.Flags().StringP("output", "o", ".", "Output directory")
	compileCmd.Flags().String("arch", "", "Target architecture ("+strings.Join(codegen.AvailableArchitectures(), ", ")+"); default detects the host")
	compileCmd.Flags().String("precision", "double", "Floating point precision (double or single)")
	compileCmd.Flags().Bool("no-libxsmm", false, "Emit every GEMM as an inline loop nest")
	compileCmd.Flags().Int("jobs", 0, "Concurrent routine generators (default TENSORGEN_JOBS or GOMAXPROCS)")
	addCompileFlags(compileCmd)

	planCmd := &cobra.Command{
		Use:   "plan PROGRAM",
		Short: "Show the loop-over-GEMM plan of every kernel",
		Args:  cobra.ExactArgs(1),
		RunE:  PlanHandler,
	}
	planCmd.Flags().BoolP("verbose", "v", false, "Print the implemented expression trees")
	addCompileFlags(planCmd)

	sppCmd := &cobra.Command{
		Use:   "spp PROGRAM KERNEL [PARAM...]",
		Short: "Show the equivalent sparsity patterns of a kernel",
		Args:  cobra.MinimumNArgs(2),
		RunE:  SppHandler,
	}

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Show the effective environment configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			vars := envconfig.AsMap()
			for _, name := range slices.Sorted(maps.Keys(vars)) {
				v := vars[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%v\t# %s\n", v.Name, v.Value, v.Description)
			}
		},
	}

	rootCmd.AddCommand(compileCmd, planCmd, sppCmd, envCmd)
	return rootCmd
}

func addCompileFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-permute-indices", 0, "Largest intermediate rank whose index orders are searched (default TENSORGEN_MAX_PERMUTE_INDICES)")
	cmd.Flags().Bool("no-permutations", false, "Keep every intermediate in its deduced index order")
}

func compileOptions(cmd *cobra.Command) (transform.Options, error) {
	var opts transform.Options
	var err error
	if opts.MaxPermuteIndices, err = cmd.Flags().GetInt("max-permute-indices"); err != nil {
		return opts, err
	}
	if opts.SkipPermutations, err = cmd.Flags().GetBool("no-permutations"); err != nil {
		return opts, err
	}
	return opts, nil
}

func load(path string, arch codegen.Architecture, opts generator.Options) (*generator.Generator, error) {
	prog, err := input.Load(path)
	if err != nil {
		return nil, err
	}
	g := generator.New(arch, opts)
	if err := prog.AddTo(g); err != nil {
		return nil, err
	}
	return g, nil
}

// CompileHandler writes the generated program.
func CompileHandler(cmd *cobra.Command, args []string) error {
	compile, err := compileOptions(cmd)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("output")
	archName, _ := cmd.Flags().GetString("arch")
	precision, _ := cmd.Flags().GetString("precision")
	noLibxsmm, _ := cmd.Flags().GetBool("no-libxsmm")
	jobs, _ := cmd.Flags().GetInt("jobs")

	arch := codegen.DefaultArchitecture()
	if archName != "" || precision != "double" {
		if archName == "" {
			archName = arch.Name
		}
		if arch, err = codegen.GetArchitecture(archName, precision); err != nil {
			return err
		}
	}

	g, err := load(args[0], arch, generator.Options{Compile: compile, DisableLibxsmm: noLibxsmm, Jobs: jobs})
	if err != nil {
		return err
	}
	files, err := g.Generate(cmd.Context(), out)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}

// PlanHandler prints one table row per loop-over-GEMM.
func PlanHandler(cmd *cobra.Command, args []string) error {
	compile, err := compileOptions(cmd)
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	g, err := load(args[0], codegen.DefaultArchitecture(), generator.Options{Compile: compile})
	if err != nil {
		return err
	}
	return writePlan(cmd.OutOrStdout(), g, verbose)
}

func writePlan(w io.Writer, g *generator.Generator, verbose bool) error {
	var data [][]string
	for _, k := range g.Kernels() {
		for _, m := range k.Members {
			name := k.Name
			if k.IsFamily() {
				name = fmt.Sprintf("%s%v", k.Name, m.Params)
			}
			for i, lg := range transform.LoopOverGEMMs(m.Result.Tree) {
				data = append(data, planRow(name, i, lg))
			}
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"KERNEL", "#", "RESULT", "M", "N", "K", "SIZE", "TRANS", "LOOPS", "BACKEND", "COST"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("   ")
	table.AppendBulk(data)
	table.Render()

	if verbose {
		for _, k := range g.Kernels() {
			for _, m := range k.Members {
				fmt.Fprintf(w, "\n%s%v:\n%s", k.Name, m.Params, ast.Format(m.Result.Tree))
			}
		}
	}
	return nil
}

func planRow(kernel string, i int, g *ast.LoopOverGEMM) []string {
	trans := ""
	if g.TransA {
		trans += "A"
	}
	if g.TransB {
		trans += "B"
	}
	if trans == "" {
		trans = "-"
	}
	var loops []string
	for _, l := range g.Loops {
		s := fmt.Sprintf("%c=%d", l.Index, l.Size)
		if l.Summed {
			s += "+"
		}
		loops = append(loops, s)
	}
	if len(loops) == 0 {
		loops = []string{"-"}
	}
	backend := gemm.Select(generator.GEMMCall(g), gemm.Libxsmm{}).Name()
	return []string{
		kernel,
		strconv.Itoa(i),
		g.Indices().String(),
		g.M, g.N, g.K,
		fmt.Sprintf("%dx%dx%d", g.Shape.M, g.Shape.N, g.Shape.K),
		trans,
		strings.Join(loops, " "),
		backend,
		g.Cost.String(),
	}
}

// SppHandler prints the equivalent sparsity pattern of every node of one
// kernel, before strength reduction.
func SppHandler(cmd *cobra.Command, args []string) error {
	prog, err := input.Load(args[0])
	if err != nil {
		return err
	}
	var decl *input.KernelDecl
	for i := range prog.Kernels {
		if prog.Kernels[i].Name == args[1] {
			decl = &prog.Kernels[i]
		}
	}
	if decl == nil {
		return fmt.Errorf("no kernel %q in %s", args[1], args[0])
	}
	params := make([]int, len(args)-2)
	for i, s := range args[2:] {
		if params[i], err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("bad parameter %q", s)
		}
	}
	a, err := prog.Assignment(*decl, params...)
	if err != nil {
		return err
	}
	n, err := transform.DeduceIndices(a)
	if err != nil {
		return err
	}
	if n, err = transform.EquivalentSparsityPattern(n); err != nil {
		return err
	}
	writeSpp(cmd.OutOrStdout(), n, 0)
	return nil
}

func writeSpp(w io.Writer, n ast.Node, depth int) {
	pad := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s: %s\n", pad, n, n.Indices())
	if m := n.EqSpp(); m != nil {
		fmt.Fprintf(w, "%s  nonzeros %d/%d\n", pad, m.Count(), n.Indices().NumElements())
		for _, line := range strings.Split(strings.TrimRight(m.String(), "\n"), "\n") {
			fmt.Fprintf(w, "%s  %s\n", pad, line)
		}
	}
	for _, c := range n.Children() {
		writeSpp(w, c, depth+1)
	}
}
