package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/decoder"
)

func decodeAt(t *testing.T, data []byte, offset int) decoder.Instruction {
	t.Helper()
	var inst decoder.Instruction
	require.NoError(t, decoder.DecodeAtOffset(data, 0, decoder.Bits64, offset, &inst))
	return inst
}

func TestIsRetPlain(t *testing.T) {
	inst := decodeAt(t, []byte{0x58, 0xc3}, 1)
	assert.True(t, IsRet(inst, binary.ThunkTable{}))
}

func TestIsJopIndirectJump(t *testing.T) {
	inst := decodeAt(t, []byte{0xff, 0xe0}, 0)
	assert.True(t, IsJop(inst, false))
	assert.True(t, IsGadgetTail(inst, false, false, true, false, binary.ThunkTable{}))
}

func TestDirectCallIsNeitherTailNorHead(t *testing.T) {
	inst := decodeAt(t, []byte{0xe8, 0x00, 0x00, 0x00, 0x00}, 0)
	assert.False(t, IsGadgetTail(inst, true, true, true, false, binary.ThunkTable{}))
	assert.False(t, IsRopGadgetHead(inst, false))
}

func TestBasePivotMov(t *testing.T) {
	inst := decodeAt(t, []byte{0x48, 0x89, 0xe5, 0xc3}, 0)
	assert.True(t, IsBasePivotHead(inst))
	assert.False(t, IsStackPivotHead(inst))
	assert.True(t, IsRopGadgetHead(inst, false))
}

func TestRetThunkJumpIsRet(t *testing.T) {
	thunks := binary.ThunkTable{RetThunk: binary.NamedThunk{Name: "__x86_return_thunk", VA: 0x1000, Have: true}}
	// jmp rel32 to 0x1000 from offset 0: target = 0 + 5 + rel, rel = 0x1000-5
	data := []byte{0xe9, 0xfb, 0x0f, 0x00, 0x00}
	inst := decodeAt(t, data, 0)
	require.True(t, inst.HasNearBranch)
	require.Equal(t, uint64(0x1000), inst.NearBranchTarget)
	assert.True(t, IsRet(inst, thunks))
	assert.True(t, IsGadgetTail(inst, true, false, false, false, thunks))
}

func TestStackPivotPop(t *testing.T) {
	// pop rsp; ret;
	inst := decodeAt(t, []byte{0x5c, 0xc3}, 0)
	assert.True(t, IsStackPivotHead(inst))
	assert.False(t, IsBasePivotHead(inst))
	assert.True(t, IsRopGadgetHead(inst, false))
}

func TestNoisyAdmitsConditionalBranchHead(t *testing.T) {
	// jz +0
	inst := decodeAt(t, []byte{0x74, 0x00}, 0)
	assert.False(t, IsRopGadgetHead(inst, false))
	assert.True(t, IsRopGadgetHead(inst, true))
}
