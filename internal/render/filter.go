// Package render applies the range/regex/pivot/nop-trim filters,
// orders the surviving gadgets, and formats them for output, per
// spec.md §4.H.
package render

import (
	"regexp"
	"sort"

	"golang.org/x/arch/x86/x86asm"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/gadget"
)

// AddrRange is one inclusive absolute-VA interval.
type AddrRange struct {
	From, To uint64
}

// RangeFilter is an ordered sequence of inclusive address intervals.
// An empty filter accepts everything.
type RangeFilter []AddrRange

// Accept reports whether addr falls in any interval, or the filter is
// empty.
func (rf RangeFilter) Accept(addr uint64) bool {
	if len(rf) == 0 {
		return true
	}
	for _, r := range rf {
		if addr >= r.From && addr <= r.To {
			return true
		}
	}
	return false
}

// RegexFilters holds the positive (all must match) and negative (none
// may match) regex sets evaluated against a gadget's canonical text.
type RegexFilters struct {
	Positive []*regexp.Regexp
	Negative []*regexp.Regexp
}

// Accept reports whether text satisfies every positive regex and no
// negative regex.
func (rf RegexFilters) Accept(text string) bool {
	for _, r := range rf.Positive {
		if !r.MatchString(text) {
			return false
		}
	}
	for _, r := range rf.Negative {
		if r.MatchString(text) {
			return false
		}
	}
	return true
}

// Options configures the filter/sort stage.
type Options struct {
	Range                 RangeFilter
	Regex                 RegexFilters
	StackPivot, BasePivot bool
	TrimNops              bool
	SortByText            bool
}

// Apply runs the range, regex, pivot, and nop-trim filters in order,
// then orders survivors by address (default) or canonical text
// (SortByText).
func Apply(gadgets []gadget.Gadget, thunks binary.ThunkTable, opts Options) []gadget.Gadget {
	out := make([]gadget.Gadget, 0, len(gadgets))
	for _, g := range gadgets {
		if !opts.Range.Accept(g.Address) {
			continue
		}
		if !opts.Regex.Accept(g.Text()) {
			continue
		}
		if opts.StackPivot && !g.IsStackPivot(thunks) {
			continue
		}
		if opts.BasePivot && !g.IsBasePivot() {
			continue
		}
		if opts.TrimNops && g.Head().Op == x86asm.NOP {
			continue
		}
		out = append(out, g)
	}

	if opts.SortByText {
		sort.Slice(out, func(i, j int) bool { return out[i].Text() < out[j].Text() })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	}
	return out
}
