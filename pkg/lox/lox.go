// Package lox is the small seam between the compiler/VM core and
// external collaborators: a CLI, a REPL, or a test. It extracts the
// parse-compile-run sequence that would otherwise be repeated at every
// call site into one reusable type.
package lox

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kristofer/lox/pkg/compiler"
	"github.com/kristofer/lox/pkg/value"
	"github.com/kristofer/lox/pkg/vm"
)

// Status classifies how an Interpret call ended, mirroring the exit
// codes a CLI host reports.
type Status int

const (
	// StatusOK means the source compiled and ran without error.
	StatusOK Status = iota
	// StatusCompileError means one or more compile errors were found;
	// the source never ran.
	StatusCompileError
	// StatusRuntimeError means compilation succeeded but execution
	// raised a runtime error.
	StatusRuntimeError
)

// Option configures an Interpreter at construction time.
type Option func(*Interpreter)

// WithStdout redirects `print` and native println output; defaults to
// os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(in *Interpreter) { in.stdout = w }
}

// WithTrace enables the VM's execution trace.
func WithTrace() Option {
	return func(in *Interpreter) { in.trace = true }
}

// Interpreter owns one VM and its interner across a sequence of
// Interpret calls, so that globals and interned strings persist
// across inputs the way a REPL session expects.
type Interpreter struct {
	interner *value.Interner
	vm       *vm.VM
	stdout   io.Writer
	trace    bool
}

// New creates an Interpreter ready to compile and run lox source.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{interner: value.NewInterner(), stdout: os.Stdout}
	for _, opt := range opts {
		opt(in)
	}
	vmOpts := []vm.Option{vm.WithStdout(in.stdout)}
	if in.trace {
		vmOpts = append(vmOpts, vm.WithTrace())
		// Trace output is logged at Debug level, below logrus's default.
		logrus.SetLevel(logrus.DebugLevel)
	}
	in.vm = vm.New(in.interner, vmOpts...)
	return in
}

// RegisterNative binds a host-implemented callable into the
// interpreter's globals, visible to every subsequent Interpret call.
func (in *Interpreter) RegisterNative(name string, arity int, fn value.NativeFunc) {
	in.vm.RegisterNative(name, arity, fn)
}

// Interpret compiles and runs source against this interpreter's VM.
// Compile errors return StatusCompileError without running anything;
// runtime errors return StatusRuntimeError after partial output (if
// any) has already been written to stdout.
func (in *Interpreter) Interpret(source string) (Status, error) {
	c := compiler.New(source, in.interner)
	c.Trace = in.trace
	fn, err := c.Compile()
	if err != nil {
		return StatusCompileError, err
	}

	if err := in.vm.Run(fn); err != nil {
		return StatusRuntimeError, err
	}
	return StatusOK, nil
}
