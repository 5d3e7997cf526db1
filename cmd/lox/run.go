package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/kristofer/lox/pkg/lox"
)

type runCmd struct {
	trace bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a lox source file" }
func (*runCmd) Usage() string {
	return `run <file>:
  Compile and execute a lox source file.
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.trace, "trace", false, "log each executed instruction and stack state")
}

func (r *runCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "run: no file specified")
		return subcommands.ExitUsageError
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return subcommands.ExitFailure
	}

	var opts []lox.Option
	if r.trace {
		opts = append(opts, lox.WithTrace())
	}
	interp := lox.New(opts...)

	status, err := interp.Interpret(string(source))
	switch status {
	case lox.StatusCompileError:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(65)
	case lox.StatusRuntimeError:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(70)
	}
	return subcommands.ExitSuccess
}
