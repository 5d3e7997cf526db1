package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/lox/pkg/value"
)

func TestChunkWriteAndConstant(t *testing.T) {
	c := NewChunk()
	idx, err := c.AddConstant(value.Number(42))
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	c.WriteOp(OpConstant, 1)
	c.Write(byte(idx), 1)

	require.Equal(t, []byte{byte(OpConstant), 0}, c.Code)
	require.Equal(t, []int{1, 1}, c.Lines)
}

func TestAddConstantCapsAt256(t *testing.T) {
	c := NewChunk()
	for i := 0; i < MaxConstants; i++ {
		_, err := c.AddConstant(value.Number(float64(i)))
		require.NoError(t, err)
	}
	_, err := c.AddConstant(value.Number(1))
	require.Error(t, err)
}

func TestPatchJumpComputesForwardOffset(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpJumpIfFalse, 1)
	holeOffset := len(c.Code)
	c.Write(0xFF, 1)
	c.Write(0xFF, 1)

	c.WriteOp(OpPop, 1)
	c.WriteOp(OpPop, 1)

	require.NoError(t, c.PatchJump(holeOffset))
	jump := int(c.Code[holeOffset])<<8 | int(c.Code[holeOffset+1])
	require.Equal(t, 2, jump)
}

func TestWriteLoopComputesBackwardOffset(t *testing.T) {
	c := NewChunk()
	loopStart := len(c.Code)
	c.WriteOp(OpPop, 1)

	require.NoError(t, c.WriteLoop(loopStart, 1))
	offset := int(c.Code[len(c.Code)-2])<<8 | int(c.Code[len(c.Code)-1])
	require.Equal(t, loopStart, len(c.Code)-offset)
}

func TestDisassembleRendersConstantAndJump(t *testing.T) {
	c := NewChunk()
	idx, _ := c.AddConstant(value.Number(1))
	c.WriteOp(OpConstant, 1)
	c.Write(byte(idx), 1)
	jmp := c.WriteOp(OpJumpIfFalse, 1)
	c.Write(0xFF, 1)
	c.Write(0xFF, 1)
	c.WriteOp(OpPop, 1)
	require.NoError(t, c.PatchJump(jmp+1))

	out := c.Disassemble("<script>")
	require.Contains(t, out, "OP_CONSTANT")
	require.Contains(t, out, "OP_JUMP_IF_FALSE")
	require.Contains(t, out, "== <script> ==")
}
