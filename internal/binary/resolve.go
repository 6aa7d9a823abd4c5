package binary

// thunkRegNames lists the 16 GPR suffixes thunk symbols are named over.
var thunkRegNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// ResolveThunks populates a ThunkTable by looking up __x86_return_thunk
// and, per register, the three indirect-thunk symbol families.
func (b *Binary) ResolveThunks() ThunkTable {
	var table ThunkTable

	if va, ok, err := b.GetSymAddr("__x86_return_thunk"); err == nil && ok {
		table.RetThunk = NamedThunk{Name: "__x86_return_thunk", VA: va, Have: true}
	}

	table.IndirectThunks = b.resolveThunkFamily("__x86_indirect_thunk_")
	table.JumpThunks = b.resolveThunkFamily("__x86_indirect_jump_thunk_")
	table.CallThunks = b.resolveThunkFamily("__x86_indirect_call_thunk_")

	return table
}

func (b *Binary) resolveThunkFamily(prefix string) []NamedThunk {
	thunks := make([]NamedThunk, 0, len(thunkRegNames))
	for _, reg := range thunkRegNames {
		name := prefix + reg
		va, ok, err := b.GetSymAddr(name)
		if err != nil {
			continue
		}
		thunks = append(thunks, NamedThunk{Name: name, VA: va, Have: ok})
	}
	return thunks
}

// ThunkArrayAddr resolves __x86_indirect_thunk_array.
func (b *Binary) ThunkArrayAddr() (uint64, bool, error) {
	va, ok, err := b.GetSymAddr("__x86_indirect_thunk_array")
	if err != nil {
		return 0, false, err
	}
	return va, ok, nil
}
