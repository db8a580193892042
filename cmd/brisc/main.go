// Package main provides the brisc command line front-end.
// Brisc is a single-hart RISC-V emulator with a modeled 5-stage pipeline.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/clabby/brisc"
	"github.com/clabby/brisc/cache"
	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/insts"
	"github.com/clabby/brisc/latency"
	"github.com/clabby/brisc/loader"
	"github.com/clabby/brisc/pipeline"
)

var (
	isa        = flag.String("isa", "rv64imac", "ISA string (rv32i[m][a][c] or rv64i[m][a][c])")
	cycles     = flag.Uint64("cycles", 0, "Cycle cap; 0 means unlimited")
	configPath = flag.String("timing-config", "", "Path to timing configuration JSON file")
	useICache  = flag.Bool("icache", false, "Enable the L1 instruction cache model")
	useDCache  = flag.Bool("dcache", false, "Enable the L1 data cache model")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: brisc [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	programPath := flag.Arg(0)

	xlen, exts, err := insts.ParseISA(*isa)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid ISA string %q\n", *isa)
		os.Exit(1)
	}

	prog, err := loader.Load(programPath, xlen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Loaded: %s\n", programPath)
		fmt.Printf("ISA: %s\n", *isa)
		fmt.Printf("Entry point: 0x%X\n", prog.EntryPoint)
		fmt.Printf("Segments: %d\n", len(prog.Segments))
	}

	var pipelineOpts []pipeline.PipelineOption
	if *configPath != "" {
		cfg, err := latency.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading timing config: %v\n", err)
			os.Exit(1)
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithLatencyTable(latency.NewTableWithConfig(cfg)))
	}
	if *useICache {
		pipelineOpts = append(pipelineOpts, pipeline.WithICache(cache.DefaultL1IConfig()))
	}
	if *useDCache {
		pipelineOpts = append(pipelineOpts, pipeline.WithDCache(cache.DefaultL1DConfig()))
	}

	em, err := brisc.NewBuilder().
		WithISA(xlen, exts).
		WithProgram(prog).
		WithKernel(emu.NewLinuxKernel(
			emu.WithStdin(os.Stdin),
			emu.WithStdout(os.Stdout),
			emu.WithStderr(os.Stderr),
		)).
		WithCycleLimit(*cycles).
		WithPipelineOptions(pipelineOpts...).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building emulator: %v\n", err)
		os.Exit(1)
	}

	exitCode, err := em.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Emulation fault: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		stats := em.Stats()
		fmt.Printf("Cycles: %d\n", stats.Cycles)
		fmt.Printf("Instructions: %d\n", stats.Instructions)
		fmt.Printf("CPI: %.3f\n", stats.CPI())
		fmt.Printf("Stalls: %d, Flushes: %d\n", stats.Stalls, stats.Flushes)
	}

	os.Exit(int(exitCode) & 0xFF)
}
