package cmd

import (
	"fmt"
	"log/slog"
	"maps"
	"os"

	"github.com/cottand/delift/infer"
	"github.com/cottand/delift/internal/log"
	"github.com/cottand/delift/ir"
	"github.com/cottand/delift/util"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var InferCmd = &cobra.Command{
	Use:          "infer file.dir",
	Short:        "Infer types for a function in textual IR form",
	RunE:         runInfer,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
}

var (
	pointerWidth    *int
	logLevel        *int
	dumpConstraints *bool
)

func init() {
	pointerWidth = InferCmd.Flags().IntP("pointer-width", "p", 64, "pointer width in bits")
	logLevel = InferCmd.Flags().IntP("log-level", "l", int(slog.LevelError), "log level")
	dumpConstraints = InferCmd.Flags().BoolP("dump-constraints", "d", false, "dump the constraint system before solving")
}

func runInfer(cmd *cobra.Command, args []string) error {
	log.SetLevel(slog.Level(*logLevel))

	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "opening input")
	}
	defer f.Close()

	fn, err := ir.ParseAssembly(f)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", args[0])
	}

	target := ir.TargetDesc{Ident: "cli", PtrWidth: *pointerWidth}
	ctx := infer.NewInferenceContext(fn, ir.NewStoreOracle(fn), target)
	if err := ctx.VisitFunction(); err != nil {
		return errors.Wrap(err, "generating constraints")
	}

	if *dumpConstraints {
		ctx.Print(os.Stderr)
		spew.Fdump(os.Stderr, ctx.Constraints())
	}

	solver := infer.NewSolver(ctx)
	if !solver.Solve() {
		return errors.Errorf("constraints of @%s are unsatisfiable", fn.Ident)
	}

	named := namedValues(fn)
	for _, name := range util.SortedKeys(maps.All(named)) {
		general, specific := solver.InferredType(named[name])
		if general == nil && specific == nil {
			continue
		}
		fmt.Printf("%%%s:", name)
		if specific != nil {
			fmt.Printf(" %s", specific)
		} else {
			fmt.Print(" ?")
		}
		if general != nil {
			fmt.Printf(" .. %s", general)
		} else {
			fmt.Print(" .. ?")
		}
		fmt.Println()
	}
	return nil
}

func namedValues(fn *ir.Function) map[string]ir.Value {
	named := make(map[string]ir.Value)
	for _, param := range fn.Params {
		named[param.Ident] = param
	}
	for _, block := range fn.Blocks {
		for _, inst := range block.Instrs {
			if inst.Ident != "" {
				named[inst.Ident] = inst
			}
		}
	}
	return named
}
