// Package vm implements the stack-based bytecode executor for lox.
//
// Architecture:
//
//   1. Value stack: a fixed-size slice of value.Value, shared by every
//      call frame.
//   2. Frame stack: a fixed-size array of CallFrame, each pinning a
//      function's view (slotBase) into the shared value stack.
//   3. Globals: a map from interned string identity to value.Value.
//   4. Dispatch: fetch-decode-switch over one function's Chunk.Code at
//      a time; CALL/RETURN swap which frame (and thus which chunk) is
//      current.
//
// There are no classes or methods, so OP_CALL resolves only to a
// *value.ObjFunction or *value.ObjNative value, never a method lookup.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kristofer/lox/pkg/bytecode"
	"github.com/kristofer/lox/pkg/value"
)

const (
	// FramesMax bounds the call-frame stack.
	FramesMax = 64
	// StackMax bounds the value stack.
	StackMax = FramesMax * 256
)

// CallFrame pins one function's view into the shared value stack: the
// function being executed, its instruction pointer, and the stack
// index its locals begin at.
type CallFrame struct {
	function *value.ObjFunction
	ip       int
	slotBase int
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithTrace enables the execution trace: before each instruction, the
// VM logs the current stack contents and the disassembled instruction
// through logrus at Debug level.
func WithTrace() Option {
	return func(vm *VM) { vm.trace = true }
}

// WithStdout redirects `print` and native println output; defaults to
// os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.stdout = w }
}

// VM executes compiled chunks against a shared value stack and call
// frame stack. Create one with New, optionally RegisterNative some
// host functions, then call Run once per top-level script. REPL hosts
// call Run repeatedly on the same VM so globals persist across inputs.
type VM struct {
	stack    []value.Value
	stackTop int

	frames     []CallFrame
	frameCount int

	globals  map[*value.ObjString]value.Value
	interner *value.Interner

	trace  bool
	stdout io.Writer
}

// New creates a VM with an empty value/frame stack and globals table,
// and binds the built-in natives (clock, println).
func New(interner *value.Interner, opts ...Option) *VM {
	vm := &VM{
		stack:    make([]value.Value, StackMax),
		frames:   make([]CallFrame, FramesMax),
		globals:  make(map[*value.ObjString]value.Value),
		interner: interner,
		stdout:   os.Stdout,
	}
	for _, opt := range opts {
		opt(vm)
	}
	bindNatives(vm)
	return vm
}

// RegisterNative binds name to a host-implemented callable visible to
// lox programs as a global. Must be called before Interpret/Run reads
// it.
func (vm *VM) RegisterNative(name string, arity int, fn value.NativeFunc) {
	key := vm.interner.Intern(name)
	vm.globals[key] = &value.ObjNative{Name: name, Arity: arity, Fn: fn}
}

// Run executes fn (the compiled top-level script) to completion. The
// value stack and frame stack are reset on entry; globals persist
// across calls so a REPL can build state incrementally.
func (vm *VM) Run(fn *value.ObjFunction) error {
	vm.stackTop = 0
	vm.frameCount = 0

	vm.push(fn)
	vm.frames[0] = CallFrame{function: fn, ip: 0, slotBase: 0}
	vm.frameCount = 1

	if err := vm.run(); err != nil {
		vm.stackTop = 0
		vm.frameCount = 0
		return err
	}
	return nil
}

func (vm *VM) currentFrame() *CallFrame { return &vm.frames[vm.frameCount-1] }

func (vm *VM) currentChunk() *bytecode.Chunk {
	return vm.currentFrame().function.Chunk.(*bytecode.Chunk)
}

func (vm *VM) run() error {
	for {
		frame := vm.currentFrame()
		chunk := vm.currentChunk()

		if vm.trace {
			vm.logTrace(chunk, frame.ip)
		}

		op := bytecode.Opcode(vm.readByte())

		switch op {
		case bytecode.OpConstant:
			vm.push(chunk.Constants[vm.readByte()])

		case bytecode.OpNil:
			vm.push(value.NilValue)
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := int(vm.readByte())
			vm.push(vm.stack[frame.slotBase+slot])
		case bytecode.OpSetLocal:
			slot := int(vm.readByte())
			vm.stack[frame.slotBase+slot] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := chunk.Constants[vm.readByte()].(*value.ObjString)
			v, ok := vm.globals[name]
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)
		case bytecode.OpSetGlobal:
			name := chunk.Constants[vm.readByte()].(*value.ObjString)
			if _, ok := vm.globals[name]; !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.globals[name] = vm.peek(0)
		case bytecode.OpDefineGlobal:
			name := chunk.Constants[vm.readByte()].(*value.ObjString)
			vm.globals[name] = vm.pop()

		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpGreater:
			if err := vm.numericBinary(func(a, b float64) value.Value { return value.Bool(a > b) }); err != nil {
				return err
			}
		case bytecode.OpLess:
			if err := vm.numericBinary(func(a, b float64) value.Value { return value.Bool(a < b) }); err != nil {
				return err
			}

		case bytecode.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}
		case bytecode.OpSubtract:
			if err := vm.numericBinary(func(a, b float64) value.Value { return value.Number(a - b) }); err != nil {
				return err
			}
		case bytecode.OpMultiply:
			if err := vm.numericBinary(func(a, b float64) value.Value { return value.Number(a * b) }); err != nil {
				return err
			}
		case bytecode.OpDivide:
			if err := vm.numericBinary(func(a, b float64) value.Value { return value.Number(a / b) }); err != nil {
				return err
			}

		case bytecode.OpNot:
			vm.push(value.Bool(!value.Truthy(vm.pop())))
		case bytecode.OpNegate:
			n, ok := vm.peek(0).(value.Number)
			if !ok {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.pop()
			vm.push(-n)

		case bytecode.OpPrint:
			fmt.Fprintln(vm.stdout, value.Stringify(vm.pop()))

		case bytecode.OpJump:
			offset := vm.readShort()
			frame.ip += offset
		case bytecode.OpJumpIfFalse:
			offset := vm.readShort()
			if !value.Truthy(vm.peek(0)) {
				frame.ip += offset
			}
		case bytecode.OpLoop:
			offset := vm.readShort()
			frame.ip -= offset

		case bytecode.OpCall:
			argCount := int(vm.readByte())
			if err := vm.call(argCount); err != nil {
				return err
			}

		case bytecode.OpReturn:
			result := vm.pop()
			finished := vm.frameCount == 1
			returningFrame := vm.currentFrame()
			vm.frameCount--
			vm.stackTop = returningFrame.slotBase
			if finished {
				return nil
			}
			vm.push(result)

		default:
			return vm.runtimeError("unknown opcode %v", op)
		}
	}
}

func (vm *VM) readByte() byte {
	frame := vm.currentFrame()
	b := vm.currentChunk().Code[frame.ip]
	frame.ip++
	return b
}

func (vm *VM) readShort() int {
	hi := int(vm.readByte())
	lo := int(vm.readByte())
	return hi<<8 | lo
}

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) numericBinary(op func(a, b float64) value.Value) error {
	b, bOk := vm.peek(0).(value.Number)
	a, aOk := vm.peek(1).(value.Number)
	if !aOk || !bOk {
		return vm.runtimeError("Operands must be numbers.")
	}
	vm.pop()
	vm.pop()
	vm.push(op(float64(a), float64(b)))
	return nil
}

func (vm *VM) add() error {
	b := vm.peek(0)
	a := vm.peek(1)

	an, aIsNum := a.(value.Number)
	bn, bIsNum := b.(value.Number)
	if aIsNum && bIsNum {
		vm.pop()
		vm.pop()
		vm.push(an + bn)
		return nil
	}

	_, aIsStr := a.(*value.ObjString)
	_, bIsStr := b.(*value.ObjString)
	if aIsStr || bIsStr {
		vm.pop()
		vm.pop()
		vm.push(vm.interner.Intern(value.Stringify(a) + value.Stringify(b)))
		return nil
	}

	return vm.runtimeError("Operands must be two numbers or one operand must be a string.")
}

// call implements OP_CALL's dispatch: the callee sits argCount slots
// below the current stack top, and that same index becomes the new
// frame's slot 0 so the function's own value occupies slotBase and its
// parameters occupy slotBase+1...
func (vm *VM) call(argCount int) error {
	calleeIdx := vm.stackTop - argCount - 1
	callee := vm.stack[calleeIdx]

	switch fn := callee.(type) {
	case *value.ObjFunction:
		if argCount != fn.Arity {
			return vm.runtimeError("Expected %d arguments but got %d.", fn.Arity, argCount)
		}
		if vm.frameCount == FramesMax {
			return vm.runtimeError("Stack overflow.")
		}
		vm.frames[vm.frameCount] = CallFrame{function: fn, ip: 0, slotBase: calleeIdx}
		vm.frameCount++
		return nil

	case *value.ObjNative:
		if argCount != fn.Arity {
			return vm.runtimeError("Expected %d arguments but got %d.", fn.Arity, argCount)
		}
		args := make([]value.Value, argCount)
		copy(args, vm.stack[calleeIdx+1:vm.stackTop])
		result, err := fn.Fn(args)
		if err != nil {
			return vm.runtimeError("%s", err.Error())
		}
		// Pop the callee and its arguments uniformly, whether the
		// call resolved to a native or a lox function.
		vm.stackTop = calleeIdx
		vm.push(result)
		return nil

	default:
		return vm.runtimeError("Can only call functions.")
	}
}

func (vm *VM) runtimeError(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	trace := make([]Frame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := vm.frames[i]
		line := 0
		if chunk, ok := f.function.Chunk.(*bytecode.Chunk); ok && f.ip-1 >= 0 && f.ip-1 < len(chunk.Lines) {
			line = chunk.Lines[f.ip-1]
		}
		trace = append(trace, Frame{FuncName: f.function.Name, Line: line})
	}
	return newRuntimeError(msg, trace)
}

func (vm *VM) logTrace(chunk *bytecode.Chunk, ip int) {
	var stackDump string
	for i := 0; i < vm.stackTop; i++ {
		stackDump += fmt.Sprintf("[ %s ]", value.Stringify(vm.stack[i]))
	}
	instr, _ := chunk.DisassembleInstruction(ip)
	logrus.Debugf("%s%s", stackDump, "  "+instr)
}
