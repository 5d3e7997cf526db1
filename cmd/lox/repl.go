package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/kristofer/lox/pkg/lox"
)

type replCmd struct {
	trace bool
}

func (*replCmd) Name() string     { return "repl" }
func (*replCmd) Synopsis() string { return "start an interactive lox session" }
func (*replCmd) Usage() string {
	return `repl:
  Read one line at a time and compile and run it. Output comes only from
  print and println; compile and runtime errors are printed.
  Globals persist across lines within the session.
`
}

func (r *replCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.trace, "trace", false, "log each executed instruction and stack state")
}

func (r *replCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	runREPL(os.Stdin, os.Stdout, r.trace)
	return subcommands.ExitSuccess
}

func runREPL(in io.Reader, out io.Writer, trace bool) {
	var opts []lox.Option
	opts = append(opts, lox.WithStdout(out))
	if trace {
		opts = append(opts, lox.WithTrace())
	}
	interp := lox.New(opts...)

	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "lox - a tiny bytecode-compiled scripting language")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if _, err := interp.Interpret(line); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}
