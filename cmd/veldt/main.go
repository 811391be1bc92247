// veldt - bytecode unit runner
//
// Loads one or more compiled unit files, links them into a single
// program and drives the entry point to completion, waiting on any
// futures the program suspends on.
//
// Build: go build ./cmd/veldt
// Usage:
//   veldt program.vu                          # run "main"
//   veldt --entry start a.vu b.vu             # link two units, run "start"
//   veldt --dump program.vu                   # disassemble instead of running
//   veldt --config veldt.toml program.vu      # explicit host configuration
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/veldt-lang/veldt/config"
	"github.com/veldt-lang/veldt/vm"
	"github.com/veldt-lang/veldt/vm/wire"
)

var (
	configPath = flag.String("config", "veldt.toml", "Host configuration file")
	entry      = flag.String("entry", "", "Entry point name (overrides config)")
	dump       = flag.Bool("dump", false, "Disassemble the linked unit and exit")
	traceExec  = flag.Bool("trace", false, "Trace each executed instruction to stderr")
	verbose    = flag.Int("v", 0, "Log verbosity (0-2)")
)

var log = commonlog.GetLogger("veldt")

func main() {
	flag.Parse()
	commonlog.Configure(*verbose, nil)

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "veldt: no unit files given\n")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "veldt: %v\n", err)
		os.Exit(1)
	}
	entryName := cfg.Run.Entry
	if *entry != "" {
		entryName = *entry
	}
	if cfg.Run.Trace {
		*traceExec = true
	}

	units := make([]*vm.Unit, 0, flag.NArg())
	for _, path := range flag.Args() {
		u, err := loadUnit(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "veldt: %v\n", err)
			os.Exit(1)
		}
		units = append(units, u)
	}

	linked, err := linkUnits(cfg, units)
	if err != nil {
		fmt.Fprintf(os.Stderr, "veldt: link failed: %v\n", err)
		os.Exit(1)
	}

	if *dump {
		fmt.Print(vm.Disassemble(linked))
		return
	}

	ctx := stockContext()
	if err := vm.VerifyLinked(linked, ctx); err != nil {
		fmt.Fprintf(os.Stderr, "veldt: %v\n", err)
		os.Exit(1)
	}

	ex, err := vm.NewExecution(linked, ctx, entryName, nil, cfg.Limits())
	if err != nil {
		fmt.Fprintf(os.Stderr, "veldt: %v\n", err)
		os.Exit(1)
	}
	if *traceExec {
		ex.Trace = func(pc uint32, op vm.Opcode) {
			fmt.Fprintf(os.Stderr, "  %6d  %s\n", pc, op)
		}
	}

	result, err := drive(ex)
	if err != nil {
		if f, ok := vm.AsFault(err); ok {
			fmt.Fprintf(os.Stderr, "veldt: fault: %v\n%s", f, f.Backtrace())
		} else {
			fmt.Fprintf(os.Stderr, "veldt: %v\n", err)
		}
		os.Exit(1)
	}
	if result.Kind() != vm.KindUnit {
		fmt.Println(result.String())
	}
}

// loadUnit reads a single compiled unit from disk.
func loadUnit(path string) (*vm.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	u, err := wire.UnmarshalUnit(data)
	if err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", path, err)
	}
	log.Debugf("loaded %s: %d bytes of code, %d constants", path, len(u.Code), len(u.Constants))
	return u, nil
}

// linkUnits links through the content-addressed cache when one is configured.
func linkUnits(cfg *config.Config, units []*vm.Unit) (*vm.Unit, error) {
	if len(units) == 1 {
		return units[0], nil
	}
	if cfg.Cache.Enabled && cfg.Cache.Path != "" {
		store, err := wire.OpenStore(cfg.Cache.Path)
		if err != nil {
			log.Errorf("cannot open unit cache %s: %v", cfg.Cache.Path, err)
			return vm.Link(units...)
		}
		defer store.Close()
		return store.LinkCached(units...)
	}
	return vm.Link(units...)
}

// drive resumes an execution until it completes or faults, blocking on
// any future it suspends on.
func drive(ex *vm.Execution) (vm.Value, error) {
	for {
		outcome, err := ex.Resume()
		if err != nil {
			return vm.Value{}, err
		}
		switch outcome.Kind {
		case vm.OutcomeComplete:
			return outcome.Value, nil
		case vm.OutcomeFault:
			return vm.Value{}, outcome.Fault
		case vm.OutcomePending:
			// The stock natives complete their futures from
			// background goroutines, so polling is enough here.
			time.Sleep(time.Millisecond)
		}
	}
}

// stockContext installs the handful of natives every program gets.
// The names are fixed, so a registration failure is a programming
// error in this file.
func stockContext() *vm.Context {
	b := vm.NewContextBuilder()
	register := func(err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "veldt: %v\n", err)
			os.Exit(1)
		}
	}
	register(b.Function("print", 1, func(ex *vm.Execution, args []vm.Value) (vm.Value, error) {
		fmt.Println(args[0].String())
		return vm.UnitValue, nil
	}))
	register(b.Function("clock_ms", 0, func(ex *vm.Execution, args []vm.Value) (vm.Value, error) {
		return vm.NewInt(time.Now().UnixMilli()), nil
	}))
	register(b.FunctionChecked("sleep_ms", 1, []vm.Kind{vm.KindInt}, func(ex *vm.Execution, args []vm.Value) (vm.Value, error) {
		ms := args[0].Int()
		fut, val := vm.NewFuture()
		go func() {
			time.Sleep(time.Duration(ms) * time.Millisecond)
			fut.Complete(vm.UnitValue)
		}()
		return val, nil
	}))
	return b.Build()
}
