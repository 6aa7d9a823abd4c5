package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/decoder"
	"github.com/zboralski/gadgetry/internal/gadget"
)

func rawRegion(data []byte) binary.CodeRegion {
	return binary.CodeRegion{Bytes: data, Bitness: decoder.Bits64}
}

func defaultOpts() Options {
	return Options{Rop: true, Sys: true, Jop: true, MaxInstr: 6, Uniq: true}
}

func textsAt(t *testing.T, gadgets []gadget.Gadget, addr uint64) []string {
	t.Helper()
	var texts []string
	for _, g := range gadgets {
		if g.Address == addr {
			texts = append(texts, g.Text())
		}
	}
	return texts
}

func TestScenarioPopRetYieldsTwoGadgets(t *testing.T) {
	region := rawRegion([]byte{0x58, 0xc3})
	gadgets, err := Scan([]binary.CodeRegion{region}, binary.ThunkTable{}, defaultOpts())
	require.NoError(t, err)

	require.Len(t, gadgets, 2)
	assert.Equal(t, []string{"pop rax; ret;"}, textsAt(t, gadgets, 0))
	assert.Equal(t, []string{"ret;"}, textsAt(t, gadgets, 1))
}

func TestScenarioNopsProduceNoGadgetsOfTheirOwn(t *testing.T) {
	region := rawRegion([]byte{0x5d, 0xc3, 0x90, 0x90})
	gadgets, err := Scan([]binary.CodeRegion{region}, binary.ThunkTable{}, defaultOpts())
	require.NoError(t, err)

	assert.Empty(t, textsAt(t, gadgets, 2))
	assert.Empty(t, textsAt(t, gadgets, 3))
	assert.Equal(t, []string{"pop rbp; ret;"}, textsAt(t, gadgets, 0))
	assert.Equal(t, []string{"ret;"}, textsAt(t, gadgets, 1))
}

func TestScenarioMovRbpRspBasePivotCandidate(t *testing.T) {
	region := rawRegion([]byte{0x48, 0x89, 0xe5, 0xc3})
	gadgets, err := Scan([]binary.CodeRegion{region}, binary.ThunkTable{}, defaultOpts())
	require.NoError(t, err)

	assert.Contains(t, textsAt(t, gadgets, 0), "mov rbp, rsp; ret;")
}

func TestScenarioIndirectJumpIsJopTail(t *testing.T) {
	region := rawRegion([]byte{0xff, 0xe0})
	gadgets, err := Scan([]binary.CodeRegion{region}, binary.ThunkTable{}, defaultOpts())
	require.NoError(t, err)

	require.Len(t, gadgets, 1)
	assert.Equal(t, "jmp rax;", gadgets[0].Text())
	assert.Equal(t, uint64(0), gadgets[0].Address)
}

func TestScenarioDirectCallYieldsNoGadget(t *testing.T) {
	region := rawRegion([]byte{0xe8, 0x00, 0x00, 0x00, 0x00})
	gadgets, err := Scan([]binary.CodeRegion{region}, binary.ThunkTable{}, defaultOpts())
	require.NoError(t, err)

	assert.Empty(t, gadgets)
}

func TestScenarioPatchedRetpolineSiteYieldsIndirectJump(t *testing.T) {
	// Post-patch bytes from spec.md §8 scenario 6: jmp rbx; nop*3.
	region := rawRegion([]byte{0xff, 0xe3, 0x90, 0x90, 0x90})
	gadgets, err := Scan([]binary.CodeRegion{region}, binary.ThunkTable{}, defaultOpts())
	require.NoError(t, err)

	assert.Contains(t, textsAt(t, gadgets, 0), "jmp rbx;")
}

func TestNoisyAdmitsDirectCallAsJopTail(t *testing.T) {
	region := rawRegion([]byte{0xe8, 0x00, 0x00, 0x00, 0x00})
	opts := defaultOpts()
	opts.Noisy = true
	gadgets, err := Scan([]binary.CodeRegion{region}, binary.ThunkTable{}, opts)
	require.NoError(t, err)

	assert.Contains(t, textsAt(t, gadgets, 0), "call 0x5;")
}

func TestMaxInstrBoundsGadgetLength(t *testing.T) {
	// Five pop-rax instructions then ret: with max_instr=2, no gadget
	// may chain more than one pop in front of the ret.
	data := []byte{0x58, 0x58, 0x58, 0x58, 0x58, 0xc3}
	opts := defaultOpts()
	opts.MaxInstr = 2
	region := rawRegion(data)
	gadgets, err := Scan([]binary.CodeRegion{region}, binary.ThunkTable{}, opts)
	require.NoError(t, err)

	for _, g := range gadgets {
		assert.LessOrEqual(t, len(g.Instructions), 2)
	}
	assert.Contains(t, textsAt(t, gadgets, 4), "pop rax; ret;")
}
