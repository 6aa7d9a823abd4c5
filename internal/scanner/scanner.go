// Package scanner implements the parallel backwards-tail-expansion
// scan: for every byte offset of every code region, find candidate
// gadget tails and walk backward enumerating every instruction
// sequence that lands on one.
package scanner

import (
	"golang.org/x/sync/errgroup"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/decoder"
	"github.com/zboralski/gadgetry/internal/gadget"
	"github.com/zboralski/gadgetry/internal/rules"
)

// Options configures which gadget families the scanner admits.
type Options struct {
	Rop, Sys, Jop, Noisy bool
	MaxInstr             int
	Uniq                 bool
}

// blockSize groups consecutive byte offsets into one work unit, per
// spec.md §9's cache-line-sized-block guidance: it amortizes
// per-task scheduling overhead without sacrificing load balance,
// since partial ordering across workers is irrelevant.
const blockSize = 64

// Scan walks every region's byte offsets in parallel, one errgroup per
// region with one goroutine per block (no SetLimit bound), and merges every (gadget, address) pair into a single
// dedup map that preserves "lowest address wins" on a text collision.
func Scan(regions []binary.CodeRegion, thunks binary.ThunkTable, opts Options) ([]gadget.Gadget, error) {
	dedup := gadget.NewDedup(opts.Uniq)

	for _, region := range regions {
		if err := scanRegion(region, thunks, opts, dedup); err != nil {
			return nil, err
		}
	}
	return dedup.Gadgets(), nil
}

func scanRegion(region binary.CodeRegion, thunks binary.ThunkTable, opts Options, dedup *gadget.Dedup) error {
	n := len(region.Bytes)
	if n == 0 {
		return nil
	}

	numBlocks := (n + blockSize - 1) / blockSize
	results := make([][]gadget.Gadget, numBlocks)

	var g errgroup.Group
	for blockIdx := 0; blockIdx < numBlocks; blockIdx++ {
		blockIdx := blockIdx
		g.Go(func() error {
			start := blockIdx * blockSize
			end := start + blockSize
			if end > n {
				end = n
			}

			// Each worker owns its own decoder state and local
			// output buffer; no shared mutable state, no locks on
			// the hot path.
			dec := decoder.New(region.Bytes, region.VA(0), region.Bitness)
			var local []gadget.Gadget

			for t := start; t < end; t++ {
				dec.SetPosition(t)
				var tail decoder.Instruction
				if err := dec.Decode(&tail); err != nil {
					return err
				}
				if !rules.IsGadgetTail(tail, opts.Rop, opts.Sys, opts.Jop, opts.Noisy, thunks) {
					continue
				}
				local = append(local, expandTail(region, dec, tail, t, opts)...)
			}

			results[blockIdx] = local
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, local := range results {
		for _, gd := range local {
			dedup.Insert(gd)
		}
	}
	return nil
}

// expandTail performs backward tail expansion for tail, decoded at
// offset t within region, per spec.md §4.F step 3: every start offset
// s in [max(0, t-15*maxInstr), t) whose forward linear decode lands
// exactly on t, with every interior instruction head-qualified,
// contributes one multi-instruction gadget. The tail alone is always
// emitted too, regardless of its own head-qualification.
func expandTail(region binary.CodeRegion, dec *decoder.Decoder, tail decoder.Instruction, t int, opts Options) []gadget.Gadget {
	out := []gadget.Gadget{{
		Instructions: []decoder.Instruction{tail},
		Address:      region.VA(t),
	}}

	lookback := 15 * opts.MaxInstr
	start := t - lookback
	if start < 0 {
		start = 0
	}

	for s := start; s < t; s++ {
		interiors, ok := walkForward(dec, s, t, opts.MaxInstr-1, opts.Noisy)
		if !ok {
			continue
		}
		insts := make([]decoder.Instruction, 0, len(interiors)+1)
		insts = append(insts, interiors...)
		insts = append(insts, tail)
		out = append(out, gadget.Gadget{
			Instructions: insts,
			Address:      region.VA(s),
		})
	}

	return out
}

// walkForward linear-decodes from s, requiring every instruction to
// be head-qualified and the walk to land exactly at t without
// exceeding maxInterior instructions. Returns the interior
// instructions in order, and whether the walk succeeded.
func walkForward(dec *decoder.Decoder, s, t, maxInterior int, noisy bool) ([]decoder.Instruction, bool) {
	var interiors []decoder.Instruction
	offset := s
	for offset < t {
		if len(interiors) >= maxInterior {
			return nil, false
		}
		dec.SetPosition(offset)
		var inst decoder.Instruction
		if err := dec.Decode(&inst); err != nil {
			return nil, false
		}
		if inst.Invalid || offset+inst.Len > t {
			return nil, false
		}
		if !rules.IsRopGadgetHead(inst, noisy) {
			return nil, false
		}
		interiors = append(interiors, inst)
		offset += inst.Len
	}
	return interiors, true
}
