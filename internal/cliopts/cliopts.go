// Package cliopts parses the small set of flag values that need more
// than a scalar type: hex address ranges and regex lists. Kept apart
// from cmd/gadgetry so the parsing rules have their own tests.
package cliopts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zboralski/gadgetry/internal/render"
)

// ParseRange parses one "--range" value of the form "from-to", where
// either side may carry an optional "0x" prefix, per spec.md §6.
func ParseRange(s string) (render.AddrRange, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return render.AddrRange{}, fmt.Errorf("range %q: expected FROM-TO", s)
	}

	fromVA, err := parseHex(from)
	if err != nil {
		return render.AddrRange{}, fmt.Errorf("range %q: %w", s, err)
	}
	toVA, err := parseHex(to)
	if err != nil {
		return render.AddrRange{}, fmt.Errorf("range %q: %w", s, err)
	}
	if toVA < fromVA {
		return render.AddrRange{}, fmt.Errorf("range %q: to < from", s)
	}
	return render.AddrRange{From: fromVA, To: toVA}, nil
}

// ParseRanges parses every "--range" occurrence into a RangeFilter.
func ParseRanges(values []string) (render.RangeFilter, error) {
	out := make(render.RangeFilter, 0, len(values))
	for _, v := range values {
		r, err := ParseRange(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// CompileRegexes compiles every "-R"/"-N" occurrence, surfacing a
// malformed pattern before scanning begins, per spec.md §7.
func CompileRegexes(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("regex %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
