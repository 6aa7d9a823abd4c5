package binary

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeSelfRelativeSites(t *testing.T) {
	// Two entries at secAddr=0x1000: entry0 = +0x10, entry1 = -0x8.
	data := []byte{
		0x10, 0x00, 0x00, 0x00,
		0xf8, 0xff, 0xff, 0xff,
	}
	sites := decodeSelfRelativeSites(data, 0x1000)
	assert.Equal(t, []uint64{0x1010, 0x1000 + 4 - 8}, sites)
}

func TestBuildRetpolineReplacementLowRegister(t *testing.T) {
	// spec.md §8 scenario 6: register index 3 (RBX), jmp, 5-byte site.
	got := buildRetpolineReplacement(false, 3, 5)
	assert.Equal(t, []byte{0xff, 0xe3, 0x90, 0x90, 0x90}, got)
}

func TestBuildRetpolineReplacementHighRegisterGetsRexB(t *testing.T) {
	// reg=11 (R11): REX.B prefix, reg-8=3 folded into ModR/M.
	got := buildRetpolineReplacement(true, 11, 6)
	assert.Equal(t, []byte{0x41, 0xff, 0xd3, 0x90, 0x90, 0x90}, got)
}

func TestBuildRetpolineReplacementCallUsesCallOpcodeBase(t *testing.T) {
	got := buildRetpolineReplacement(true, 0, 3)
	// mod=11, reg=0 (RAX) -> modrm = 0x10 | 0xc0 = 0xd0
	assert.Equal(t, []byte{0xff, 0xd0, 0x90}, got)
}
