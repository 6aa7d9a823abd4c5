// Package gdkerr holds the sentinel error values the CLI maps to exit
// codes, and the error kinds spec.md §7 names. Layers wrap these with
// fmt.Errorf("...: %w", err) rather than inventing new kinds.
package gdkerr

import "errors"

var (
	// ErrIO covers a file that cannot be read, or output that cannot
	// be written.
	ErrIO = errors.New("io error")

	// ErrParse means the object was recognized but is malformed.
	ErrParse = errors.New("parse error")

	// ErrUnsupported means the object is neither ELF nor PE in
	// non-raw mode.
	ErrUnsupported = errors.New("unsupported object")

	// ErrArgument covers invalid CLI arguments, e.g. max-instr == 0.
	ErrArgument = errors.New("argument error")

	// ErrPatchFatal covers a patcher condition that threatens the
	// correctness of downstream decoding (a retpoline site that
	// resolves to register 4, or one out of the thunk array's
	// bounds).
	ErrPatchFatal = errors.New("fatal patch error")
)
