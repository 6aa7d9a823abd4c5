package render

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/gadget"
)

// Colorizer renders one ADDR: TEXT line, with addr already an
// absolute VA and text already thunk-symbolized. Only cmd/gadgetry
// supplies a coloring implementation (via internal/ui/colorize); this
// package stays free of that import so the core pipeline never
// depends on terminal handling.
type Colorizer func(addr uint64, text string) string

// NoColor renders the plain, uncolored line.
func NoColor(addr uint64, text string) string {
	return fmt.Sprintf("0x%010x: %s", addr, text)
}

// Write renders one line per gadget, after thunk-address
// symbolization, through colorize. A broken output pipe is treated
// as clean termination, matching spec.md §7.
func Write(w io.Writer, gadgets []gadget.Gadget, thunks binary.ThunkTable, colorize Colorizer) error {
	for _, g := range gadgets {
		text := symbolize(g.Text(), thunks)

		if _, err := fmt.Fprintln(w, colorize(g.Address, text)); err != nil {
			if errors.Is(err, syscall.EPIPE) {
				return nil
			}
			return err
		}
	}
	return nil
}

// symbolize rewrites literal "0x<va>" occurrences in text with
// "0x<va> <name>" for every thunk VA known to thunks, per spec.md
// §4.H.6. The return thunk is special-cased to only replace an
// occurrence immediately followed by ';' (it always appears as a
// gadget's terminal jump), matching the source tool's behavior.
func symbolize(text string, thunks binary.ThunkTable) string {
	if thunks.RetThunk.Have {
		name, _ := thunks.Symbolize(thunks.RetThunk.VA)
		from := fmt.Sprintf("0x%x;", thunks.RetThunk.VA)
		to := fmt.Sprintf("0x%x <%s>;", thunks.RetThunk.VA, name)
		text = strings.ReplaceAll(text, from, to)
	}

	for _, group := range [][]binary.NamedThunk{thunks.IndirectThunks, thunks.JumpThunks, thunks.CallThunks} {
		for _, th := range group {
			if !th.Have {
				continue
			}
			name, ok := thunks.Symbolize(th.VA)
			if !ok {
				continue
			}
			from := fmt.Sprintf("0x%x", th.VA)
			to := fmt.Sprintf("0x%x <%s>", th.VA, name)
			text = strings.ReplaceAll(text, from, to)
		}
	}

	return text
}
