package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/lox/pkg/bytecode"
	"github.com/kristofer/lox/pkg/value"
)

func compile(t *testing.T, src string) *value.ObjFunction {
	t.Helper()
	fn, err := New(src, value.NewInterner()).Compile()
	require.NoError(t, err)
	return fn
}

func TestCompileNumberLiteral(t *testing.T) {
	fn := compile(t, "1;")
	chunk := fn.Chunk.(*bytecode.Chunk)
	require.Equal(t, bytecode.OpConstant, bytecode.Opcode(chunk.Code[0]))
	require.Equal(t, value.Number(1), chunk.Constants[0])
}

func TestCompileArithmeticPrecedence(t *testing.T) {
	fn := compile(t, "5 + 3 * 6 / 3;")
	chunk := fn.Chunk.(*bytecode.Chunk)
	var ops []bytecode.Opcode
	for i := 0; i < len(chunk.Code); {
		op := bytecode.Opcode(chunk.Code[i])
		ops = append(ops, op)
		switch op {
		case bytecode.OpConstant:
			i += 2
		default:
			i++
		}
	}
	require.Contains(t, ops, bytecode.OpMultiply)
	require.Contains(t, ops, bytecode.OpDivide)
	require.Contains(t, ops, bytecode.OpAdd)
	// Multiply/divide must precede add in the emitted stream (precedence).
	var mulIdx, addIdx int
	for i, op := range ops {
		if op == bytecode.OpMultiply {
			mulIdx = i
		}
		if op == bytecode.OpAdd {
			addIdx = i
		}
	}
	require.Less(t, mulIdx, addIdx)
}

func TestCompileGlobalShadowingAllowed(t *testing.T) {
	_, err := New(`var a = 10; var a = a; print a;`, value.NewInterner()).Compile()
	require.NoError(t, err)
}

func TestSelfReferencingLocalInitializerIsError(t *testing.T) {
	_, err := New(`{ var a = a; }`, value.NewInterner()).Compile()
	require.Error(t, err)
	require.Contains(t, err.Error(), "can't read local variable in its own initializer")
}

func TestDuplicateLocalInSameScopeIsError(t *testing.T) {
	_, err := New(`{ var a = 1; var a = 2; }`, value.NewInterner()).Compile()
	require.Error(t, err)
	require.Contains(t, err.Error(), "already a variable with this name")
}

func TestReturnFromTopLevelIsError(t *testing.T) {
	_, err := New(`return 1;`, value.NewInterner()).Compile()
	require.Error(t, err)
	require.Contains(t, err.Error(), "can't return from top-level code")
}

func TestInvalidAssignmentTargetIsError(t *testing.T) {
	_, err := New(`1 = 2;`, value.NewInterner()).Compile()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid assignment target")
}

func TestPanicModeSurfacesMultipleErrors(t *testing.T) {
	_, err := New(`1 = 2; 3 = 4;`, value.NewInterner()).Compile()
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 errors occurred")
}

func TestClassKeywordIsUnimplemented(t *testing.T) {
	_, err := New(`class Foo {}`, value.NewInterner()).Compile()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unimplemented keyword 'class'")
}

func TestBlockEmitsPopPerLocal(t *testing.T) {
	fn := compile(t, `{ var a = 1; var b = 2; }`)
	chunk := fn.Chunk.(*bytecode.Chunk)
	pops := 0
	for _, b := range chunk.Code {
		if bytecode.Opcode(b) == bytecode.OpPop {
			pops++
		}
	}
	require.Equal(t, 2, pops)
}

func TestFunctionDeclarationEmitsConstantAndDefineGlobal(t *testing.T) {
	fn := compile(t, `fun add(a,b){return a+b;}`)
	chunk := fn.Chunk.(*bytecode.Chunk)
	require.Equal(t, bytecode.OpConstant, bytecode.Opcode(chunk.Code[0]))
	inner, ok := chunk.Constants[chunk.Code[1]].(*value.ObjFunction)
	require.True(t, ok)
	require.Equal(t, "add", inner.Name)
	require.Equal(t, 2, inner.Arity)
	require.Equal(t, bytecode.OpDefineGlobal, bytecode.Opcode(chunk.Code[2]))
}

func TestJumpOperandsAreBigEndian16Bit(t *testing.T) {
	fn := compile(t, `if (true) { 1; } else { 2; }`)
	chunk := fn.Chunk.(*bytecode.Chunk)
	found := false
	for i := 0; i < len(chunk.Code); i++ {
		if bytecode.Opcode(chunk.Code[i]) == bytecode.OpJumpIfFalse {
			found = true
			offset := int(chunk.Code[i+1])<<8 | int(chunk.Code[i+2])
			require.Greater(t, offset, 0)
		}
	}
	require.True(t, found)
}
