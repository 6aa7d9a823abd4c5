package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStreamPopRet(t *testing.T) {
	d := New([]byte{0x58, 0xc3}, 0, Bits64)

	var inst Instruction
	require.True(t, d.CanDecode())
	require.NoError(t, d.Decode(&inst))
	assert.Equal(t, 0, inst.Offset)
	assert.Equal(t, 1, inst.Len)
	assert.False(t, inst.Invalid)
	assert.Equal(t, "pop rax", inst.Asm())

	require.True(t, d.CanDecode())
	require.NoError(t, d.Decode(&inst))
	assert.Equal(t, 1, inst.Offset)
	assert.Equal(t, 1, inst.Len)
	assert.Equal(t, FlowReturn, inst.Flow)
	assert.Equal(t, "ret", inst.Asm())

	assert.False(t, d.CanDecode())
}

func TestDecodeMovRbpRsp(t *testing.T) {
	var inst Instruction
	require.NoError(t, DecodeAtOffset([]byte{0x48, 0x89, 0xe5, 0xc3}, 0, Bits64, 0, &inst))
	assert.Equal(t, 3, inst.Len)
	assert.Equal(t, "mov rbp, rsp", inst.Asm())
	assert.Equal(t, FlowNext, inst.Flow)
}

func TestDecodeIndirectJump(t *testing.T) {
	var inst Instruction
	require.NoError(t, DecodeAtOffset([]byte{0xff, 0xe0}, 0, Bits64, 0, &inst))
	assert.Equal(t, "jmp rax", inst.Asm())
	assert.Equal(t, FlowIndirectBranch, inst.Flow)
	assert.Equal(t, KindRegister, inst.Op0Kind)
}

func TestDecodeDirectCallResolvesNearBranch(t *testing.T) {
	var inst Instruction
	require.NoError(t, DecodeAtOffset([]byte{0xe8, 0x00, 0x00, 0x00, 0x00}, 0, Bits64, 0, &inst))
	assert.Equal(t, 5, inst.Len)
	assert.Equal(t, FlowCall, inst.Flow)
	assert.True(t, inst.HasNearBranch)
	assert.Equal(t, uint64(5), inst.NearBranchTarget)
	assert.Equal(t, "call 0x5", inst.Asm())
}

func TestDecodeInvalidAdvancesByOne(t *testing.T) {
	d := New([]byte{0x0f, 0xff}, 0, Bits64)
	var inst Instruction
	require.NoError(t, d.Decode(&inst))
	assert.True(t, inst.Invalid)
	assert.Equal(t, 1, inst.Len)
}

func TestDecodeAtOffsetPastEndIsInvalid(t *testing.T) {
	var inst Instruction
	require.NoError(t, DecodeAtOffset([]byte{0xc3}, 0, Bits64, 5, &inst))
	assert.True(t, inst.Invalid)
	assert.Equal(t, 1, inst.Len)
}
