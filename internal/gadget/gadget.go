// Package gadget holds the Gadget value type, its canonical textual
// form, and the lowest-address-wins dedup map the scanner feeds.
package gadget

import (
	"strings"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/decoder"
	"github.com/zboralski/gadgetry/internal/rules"
)

// Gadget is an immutable ordered instruction sequence. Equality and
// hashing are by canonical text (see Text), not by address, so that
// identical assembly reached from different addresses collides.
type Gadget struct {
	Instructions []decoder.Instruction
	Address      uint64
}

// Text renders the gadget's canonical textual form: each instruction's
// Asm(), joined by "; " and terminated by ";". This exact string is
// both the dedup key and the regex-match target; formatting it twice
// always yields the same text since it is a pure function of already-
// decoded, immutable Instruction values.
func (g Gadget) Text() string {
	parts := make([]string, len(g.Instructions))
	for i, inst := range g.Instructions {
		parts[i] = inst.Asm()
	}
	return strings.Join(parts, "; ") + ";"
}

// Tail returns the gadget's terminal instruction.
func (g Gadget) Tail() decoder.Instruction {
	return g.Instructions[len(g.Instructions)-1]
}

// Head returns the gadget's first instruction.
func (g Gadget) Head() decoder.Instruction {
	return g.Instructions[0]
}

// IsStackPivot reports whether the gadget's head reassigns RSP/ESP/SP
// and its tail is a plain or thunked return.
func (g Gadget) IsStackPivot(thunks binary.ThunkTable) bool {
	return rules.IsStackPivotHead(g.Head()) && rules.IsStackPivotTail(g.Tail(), thunks)
}

// IsBasePivot reports whether the gadget's head reassigns RBP/EBP/BP.
func (g Gadget) IsBasePivot() bool {
	return rules.IsBasePivotHead(g.Head())
}

// Dedup is the by-canonical-text deduplication map. When uniq is
// enabled the scanner merges every (gadget, address) pair into one of
// these, keeping the lowest address on a text collision.
type Dedup struct {
	uniq    bool
	byText  map[string]Gadget
	ordered []Gadget
}

// NewDedup returns a Dedup map. When uniq is false, every inserted
// gadget is retained as a distinct entry even if its text collides
// with another.
func NewDedup(uniq bool) *Dedup {
	d := &Dedup{uniq: uniq}
	if uniq {
		d.byText = make(map[string]Gadget)
	}
	return d
}

// Insert adds g to the map. With uniq on, a collision on canonical
// text keeps whichever of the two has the lower address.
func (d *Dedup) Insert(g Gadget) {
	if !d.uniq {
		d.ordered = append(d.ordered, g)
		return
	}
	text := g.Text()
	existing, ok := d.byText[text]
	if !ok || g.Address < existing.Address {
		d.byText[text] = g
	}
}

// Gadgets returns every surviving gadget, in no particular order.
func (d *Dedup) Gadgets() []Gadget {
	if !d.uniq {
		return d.ordered
	}
	out := make([]Gadget, 0, len(d.byText))
	for _, g := range d.byText {
		out = append(out, g)
	}
	return out
}
