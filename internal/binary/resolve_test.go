package binary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveThunksFindsReturnThunk(t *testing.T) {
	b := &Binary{bytes: buildMinimalELF64()}
	table := b.ResolveThunks()

	require.True(t, table.RetThunk.Have)
	assert.Equal(t, uint64(0x1000), table.RetThunk.VA)
	assert.True(t, table.IsRetThunkTarget(0x1000))
}

func TestResolveThunksLeavesMissingFamiliesUnresolved(t *testing.T) {
	b := &Binary{bytes: buildMinimalELF64()}
	table := b.ResolveThunks()

	for _, th := range table.IndirectThunks {
		assert.False(t, th.Have)
	}
	assert.False(t, table.IsIndirectThunkTarget(0x2000))
}

func TestThunkArrayAddrMissingIsNotFound(t *testing.T) {
	b := &Binary{bytes: buildMinimalELF64()}
	_, ok, err := b.ThunkArrayAddr()
	require.NoError(t, err)
	assert.False(t, ok)
}
