package gadget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/decoder"
)

func decodeSeq(t *testing.T, data []byte) []decoder.Instruction {
	t.Helper()
	d := decoder.New(data, 0, decoder.Bits64)
	var insts []decoder.Instruction
	for d.CanDecode() {
		var inst decoder.Instruction
		require.NoError(t, d.Decode(&inst))
		insts = append(insts, inst)
	}
	return insts
}

func TestTextJoinsAndTerminates(t *testing.T) {
	insts := decodeSeq(t, []byte{0x58, 0xc3}) // pop rax; ret
	g := Gadget{Instructions: insts}
	assert.Equal(t, "pop rax; ret;", g.Text())
}

func TestTextIsIdempotent(t *testing.T) {
	insts := decodeSeq(t, []byte{0x5d, 0xc3})
	g := Gadget{Instructions: insts}
	assert.Equal(t, g.Text(), g.Text())
}

func TestDedupKeepsLowestAddress(t *testing.T) {
	insts := decodeSeq(t, []byte{0xc3})
	d := NewDedup(true)
	d.Insert(Gadget{Instructions: insts, Address: 0x2000})
	d.Insert(Gadget{Instructions: insts, Address: 0x1000})
	d.Insert(Gadget{Instructions: insts, Address: 0x3000})

	got := d.Gadgets()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(0x1000), got[0].Address)
}

func TestDedupNouniqKeepsAll(t *testing.T) {
	insts := decodeSeq(t, []byte{0xc3})
	d := NewDedup(false)
	d.Insert(Gadget{Instructions: insts, Address: 0x1000})
	d.Insert(Gadget{Instructions: insts, Address: 0x2000})

	assert.Len(t, d.Gadgets(), 2)
}

func TestBasePivotGadget(t *testing.T) {
	insts := decodeSeq(t, []byte{0x48, 0x89, 0xe5, 0xc3}) // mov rbp, rsp; ret
	g := Gadget{Instructions: insts}
	assert.True(t, g.IsBasePivot())
}

func TestStackPivotGadget(t *testing.T) {
	insts := decodeSeq(t, []byte{0x5c, 0xc3}) // pop rsp; ret
	g := Gadget{Instructions: insts}
	assert.True(t, g.IsStackPivot(binary.ThunkTable{}))
}
