package binary

// NamedThunk pairs a well-known thunk symbol name with its resolved
// virtual address, when the symbol is present in the image.
type NamedThunk struct {
	Name string
	VA   uint64
	Have bool
}

// ThunkTable holds the symbols the tail classifier and renderer need
// to recognize CFI-mitigation thunks and undo their effect on gadget
// discovery. Populated once after loading, read-only afterward.
type ThunkTable struct {
	// RetThunk is __x86_return_thunk.
	RetThunk NamedThunk

	// IndirectThunks are __x86_indirect_thunk_<reg> for the 16 GPRs.
	IndirectThunks []NamedThunk

	// JumpThunks and CallThunks are the split
	// __x86_indirect_jump_thunk_<reg> / __x86_indirect_call_thunk_<reg>
	// families some retpoline-only (no return-thunk) kernels emit
	// instead of a single indirect thunk per register.
	JumpThunks []NamedThunk
	CallThunks []NamedThunk
}

// IsRetThunkTarget reports whether va is the resolved return-thunk
// address.
func (t ThunkTable) IsRetThunkTarget(va uint64) bool {
	return t.RetThunk.Have && t.RetThunk.VA == va
}

// IsIndirectThunkTarget reports whether va is any known
// indirect/jump/call thunk address.
func (t ThunkTable) IsIndirectThunkTarget(va uint64) bool {
	for _, group := range [][]NamedThunk{t.IndirectThunks, t.JumpThunks, t.CallThunks} {
		for _, th := range group {
			if th.Have && th.VA == va {
				return true
			}
		}
	}
	return false
}

// Symbolize returns the symbol name of the known thunk at va, for the
// renderer to splice after a literal "0x<va>" occurrence in gadget
// text, and whether va names a known thunk at all.
func (t ThunkTable) Symbolize(va uint64) (name string, ok bool) {
	if t.RetThunk.Have && t.RetThunk.VA == va {
		return t.RetThunk.Name, true
	}
	for _, group := range [][]NamedThunk{t.IndirectThunks, t.JumpThunks, t.CallThunks} {
		for _, th := range group {
			if th.Have && th.VA == va {
				return th.Name, true
			}
		}
	}
	return "", false
}
