// Command gadgetry finds ROP/JOP/SOP gadgets in an x86/x86-64 program
// image, reversing the Linux kernel's return-thunk and retpoline CFI
// mitigations first when the image carries them.
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/cliopts"
	"github.com/zboralski/gadgetry/internal/gdkerr"
	"github.com/zboralski/gadgetry/internal/glog"
	"github.com/zboralski/gadgetry/internal/render"
	"github.com/zboralski/gadgetry/internal/scanner"
	"github.com/zboralski/gadgetry/internal/ui/colorize"
)

// magicSymbols is the fixed list spec.md §6 names for --magic.
var magicSymbols = []string{
	"modprobe_path", "core_pattern", "init_cred", "prepare_kernel_cred",
	"commit_creds", "find_task_by_vpid", "init_nsproxy", "switch_task_namespaces",
}

type options struct {
	noisy           bool
	colour          string
	norop           bool
	nosys           bool
	nojop           bool
	stackPivot      bool
	basePivot       bool
	trimNops        bool
	patchRets       bool
	patchRetpolines bool
	maxInstr        int
	positive        []string
	negative        []string
	raw             string
	ranges          []string
	nouniq          bool
	sort            bool
	magic           bool
	verbose         bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "gadgetry <binary>",
		Short: "Find ROP/JOP/SOP gadgets in an x86/x86-64 program image",
		Long: `gadgetry is an offline gadget finder for x86 and x86-64 program images,
with first-class support for Linux vmlinux images whose compiler-inserted
control-flow-integrity mitigations (return thunks, retpolines) must be
reversed before useful gadgets appear.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], opts)
		},
	}

	f := rootCmd.Flags()
	f.BoolVarP(&opts.noisy, "noisy", "n", false, "admit prefixed, conditional-branch, and any-operand JMP/CALL gadgets")
	f.StringVarP(&opts.colour, "colour", "c", "", "force colorization (true|false); autodetect if unset")
	f.BoolVarP(&opts.norop, "norop", "r", false, "disable ROP tails")
	f.BoolVarP(&opts.nosys, "nosys", "s", false, "disable syscall-return tails")
	f.BoolVarP(&opts.nojop, "nojop", "j", false, "disable JOP tails")
	f.BoolVarP(&opts.stackPivot, "stack-pivot", "p", false, "keep only stack-pivot gadgets")
	f.BoolVarP(&opts.basePivot, "base-pivot", "b", false, "keep only base-pivot gadgets")
	f.BoolVar(&opts.trimNops, "trim-nops", true, "drop NOP-headed gadgets")
	f.BoolVar(&opts.patchRets, "patch-rets", true, "apply the .return_sites patch")
	f.BoolVar(&opts.patchRetpolines, "patch-retpolines", true, "apply the .retpoline_sites patch")
	f.IntVarP(&opts.maxInstr, "max-instr", "m", 6, "maximum instructions per gadget")
	f.StringArrayVarP(&opts.positive, "regex-pos", "R", nil, "positive filter regex (repeatable)")
	f.StringArrayVarP(&opts.negative, "regex-neg", "N", nil, "negative filter regex (repeatable)")
	f.StringVar(&opts.raw, "raw", "", "treat input as a flat blob (true|false)")
	f.StringArrayVar(&opts.ranges, "range", nil, "address-range filter FROM-TO, hex (repeatable)")
	f.BoolVarP(&opts.nouniq, "nouniq", "u", false, "keep duplicate gadgets")
	f.BoolVar(&opts.sort, "sort", false, "alphabetize by text instead of sorting by address")
	f.BoolVar(&opts.magic, "magic", false, "print kernel symbol #define offsets and exit")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose debug output")

	// Errors are reported ourselves (colorized, autodetected like the
	// rest of the output) rather than through cobra's default usage
	// dump, which would fire on a RunE error too.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	// spec.md §6: zero on success (including zero gadgets found),
	// non-zero on I/O, parse, argument, or fatal-patch errors. None of
	// gdkerr's sentinels need a distinct status, so any returned error
	// maps to 1.
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorize.Error("Error: "+err.Error()))
		os.Exit(1)
	}
}

func run(path string, opts *options) error {
	glog.Init(opts.verbose)
	log := glog.L

	if opts.maxInstr < 1 {
		return fmt.Errorf("%w: --max-instr must be >= 1, got %d", gdkerr.ErrArgument, opts.maxInstr)
	}

	rangeFilter, err := cliopts.ParseRanges(opts.ranges)
	if err != nil {
		return fmt.Errorf("%w: %v", gdkerr.ErrArgument, err)
	}
	positive, err := cliopts.CompileRegexes(opts.positive)
	if err != nil {
		return fmt.Errorf("%w: %v", gdkerr.ErrArgument, err)
	}
	negative, err := cliopts.CompileRegexes(opts.negative)
	if err != nil {
		return fmt.Errorf("%w: %v", gdkerr.ErrArgument, err)
	}

	rawPtr, err := parseTriState(opts.raw)
	if err != nil {
		return fmt.Errorf("%w: --raw: %v", gdkerr.ErrArgument, err)
	}
	colourPtr, err := parseTriState(opts.colour)
	if err != nil {
		return fmt.Errorf("%w: --colour: %v", gdkerr.ErrArgument, err)
	}
	colorize.SetOverride(colourPtr)

	img, err := binary.Load(path)
	if err != nil {
		return err
	}

	if opts.magic {
		return printMagic(img)
	}

	start := time.Now()

	thunks := img.ResolveThunks()

	if opts.patchRets {
		if err := img.ApplyReturnSites(log); err != nil {
			return err
		}
	}
	if opts.patchRetpolines {
		thunkArrayVA, ok, err := img.ThunkArrayAddr()
		if err != nil {
			return err
		}
		if !ok {
			log.Skipped("__x86_indirect_thunk_array not found, skipping retpoline patch")
		} else if err := img.PatchRetpolines(thunkArrayVA, log); err != nil {
			return err
		}
	}

	regions, err := img.Sections(rawPtr)
	if err != nil {
		return err
	}

	gadgets, err := scanner.Scan(regions, thunks, scanner.Options{
		Rop:      !opts.norop,
		Sys:      !opts.nosys,
		Jop:      !opts.nojop,
		Noisy:    opts.noisy,
		MaxInstr: opts.maxInstr,
		Uniq:     !opts.nouniq,
	})
	if err != nil {
		return err
	}

	filtered := render.Apply(gadgets, thunks, render.Options{
		Range:      rangeFilter,
		Regex:      render.RegexFilters{Positive: positive, Negative: negative},
		StackPivot: opts.stackPivot,
		BasePivot:  opts.basePivot,
		TrimNops:   opts.trimNops,
		SortByText: opts.sort,
	})

	out := bufio.NewWriterSize(os.Stdout, 64*1024)
	colorizer := render.NoColor
	if !colorize.IsDisabled() {
		colorizer = func(addr uint64, text string) string {
			return colorize.Address(addr) + colorize.Border(": ") + colorize.Instruction(text)
		}
	}
	if err := render.Write(out, filtered, thunks, colorizer); err != nil {
		return fmt.Errorf("%w: %v", gdkerr.ErrIO, err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("%w: %v", gdkerr.ErrIO, err)
	}

	elapsed := time.Since(start)
	summary := fmt.Sprintf("==> Found %d gadgets in %.3f seconds", len(filtered), elapsed.Seconds())
	fmt.Fprintln(os.Stderr, colorize.Comment(summary))
	return nil
}

// parseTriState parses a "true"/"false"/"" flag value into a *bool,
// nil meaning unset/autodetect.
func parseTriState(s string) (*bool, error) {
	switch s {
	case "":
		return nil, nil
	case "true":
		v := true
		return &v, nil
	case "false":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("expected true or false, got %q", s)
	}
}

// printMagic implements --magic: print #define lines for the fixed
// kernel symbol list, each offset from _text, then stop before any
// scanning happens.
func printMagic(img *binary.Binary) error {
	textVA, ok, err := img.GetSymAddr("_text")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: _text symbol not found", gdkerr.ErrParse)
	}

	for _, name := range magicSymbols {
		va, ok, err := img.GetSymAddr(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fmt.Printf("#define %s %s\n", name, colorize.Detail(fmt.Sprintf("0x%x", va-textVA)))
	}
	return nil
}
