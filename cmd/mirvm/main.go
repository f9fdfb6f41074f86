// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mirvm is the thin CLI wrapper of spec.md §6.2: it loads a
// MIR program, wires components A-J into one Interp, drives it to
// completion, and reports the outcome the way the teacher's own
// command wrappers report a process exit code, nothing more.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mirvm/interp/internal/borrow"
	"github.com/mirvm/interp/internal/config"
	"github.com/mirvm/interp/internal/diag"
	"github.com/mirvm/interp/internal/evalctx"
	"github.com/mirvm/interp/internal/ids"
	"github.com/mirvm/interp/internal/memstore"
	"github.com/mirvm/interp/internal/metrics"
	"github.com/mirvm/interp/internal/mir"
	"github.com/mirvm/interp/internal/obslog"
	"github.com/mirvm/interp/internal/provenance"
	"github.com/mirvm/interp/internal/race"
	"github.com/mirvm/interp/internal/sched"
	"github.com/mirvm/interp/internal/shim"
	"github.com/mirvm/interp/internal/step"
	"github.com/mirvm/interp/internal/syncprim"
)

// flagOverrides mirrors config.Config, plus the set of flags the user
// actually passed (config.Merge only honours those), and the
// program-only knobs (entry args, config-file path) that never belong
// in the YAML layer.
type flagOverrides struct {
	cfg        config.Config
	configPath string
	entryArgs  []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mirvm",
		Short: "A typed-MIR abstract interpreter for undefined-behaviour detection",
	}
	root.AddCommand(newRunCmd(), newCheckConfigCmd())
	return root
}

func bindFlags(cmd *cobra.Command, o *flagOverrides) {
	o.cfg = config.Default()
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "path to a YAML config file of project defaults")
	f.BoolVar(&o.cfg.Isolation, "isolation", o.cfg.Isolation, "run with a hermetic host environment")
	f.StringVar(&o.cfg.ProvenanceMode, "provenance-mode", o.cfg.ProvenanceMode, "strict|default|permissive")
	f.BoolVar(&o.cfg.AliasingEnforcement, "aliasing-enforcement", o.cfg.AliasingEnforcement, "enable the Stacked Borrows aliasing check")
	f.BoolVar(&o.cfg.RaceDetector, "race-detector", o.cfg.RaceDetector, "enable the vector-clock data-race detector")
	f.BoolVar(&o.cfg.WeakMemory, "weak-memory", o.cfg.WeakMemory, "enable relaxed-atomic store buffering")
	f.Float64Var(&o.cfg.PreemptionRate, "preemption-rate", o.cfg.PreemptionRate, "probability of an extra yield per scheduling round, 0.0-1.0")
	f.IntVar(&o.cfg.GCInterval, "gc-interval", o.cfg.GCInterval, "interpretive steps between borrow-stack GC passes, 0 disables")
	f.Uint64Var(&o.cfg.StepLimit, "step-limit", o.cfg.StepLimit, "abort after this many interpretive steps, 0 is unlimited")
	f.StringVar(&o.cfg.BacktraceStyle, "backtrace", o.cfg.BacktraceStyle, "off|short|full")
	f.StringSliceVar(&o.cfg.TrackedTags, "track-tag", o.cfg.TrackedTags, "borrow tags to log history for")
	f.StringSliceVar(&o.cfg.TrackedAllocs, "track-alloc", o.cfg.TrackedAllocs, "allocation ids to log history for")
	f.StringSliceVar(&o.cfg.TrackedCalls, "track-call", o.cfg.TrackedCalls, "call ids to log protector history for")
	f.StringVar(&o.cfg.MeasureMePath, "measure-me", o.cfg.MeasureMePath, "write a Prometheus text-exposition profile here on exit")
	f.Int64Var(&o.cfg.Seed, "seed", o.cfg.Seed, "RNG seed for address slack and weak-memory choices")
	f.StringVar(&o.cfg.TargetTriple, "target", o.cfg.TargetTriple, "target triple, selects pointer width and layout")
	f.StringVar(&o.cfg.Sysroot, "sysroot", o.cfg.Sysroot, "path to the target's prebuilt standard library")
}

func newRunCmd() *cobra.Command {
	var o flagOverrides
	cmd := &cobra.Command{
		Use:   "run <program.json> [entry-args...]",
		Short: "Interpret a MIR program and report the first undefined-behaviour diagnosis, if any",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.entryArgs = args[1:]
			cfg, err := resolveConfig(cmd, &o)
			if err != nil {
				return err
			}
			return runProgram(args[0], cfg)
		},
	}
	bindFlags(cmd, &o)
	return cmd
}

func newCheckConfigCmd() *cobra.Command {
	var o flagOverrides
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Load a config file, apply flag overrides, and print the merged flag set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, &o)
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", cfg)
			return nil
		},
	}
	bindFlags(cmd, &o)
	return cmd
}

func resolveConfig(cmd *cobra.Command, o *flagOverrides) (config.Config, error) {
	fileCfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	set := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { set[f.Name] = true })
	return config.Merge(fileCfg, o.cfg, set), nil
}

func runProgram(path string, cfg config.Config) error {
	prog, err := mir.LoadProgram(path)
	if err != nil {
		return err
	}

	level := logrus.InfoLevel
	log := obslog.New(os.Stderr, level)

	style, err := diag.ParseBacktraceStyle(cfg.BacktraceStyle)
	if err != nil {
		return err
	}
	sink := diag.NewSink(os.Stderr, style, nil)

	mc := metrics.New()
	sink.OnFlush(func(ev *diag.Event) {
		mc.Diagnostics.WithLabelValues(ev.Kind.String()).Inc()
	})

	mode, err := provenance.ParseIntToPtrMode(cfg.ProvenanceMode)
	if err != nil {
		return err
	}

	addrs := provenance.NewAddressSpace(cfg.Seed)
	store := memstore.NewStore(addrs)
	// historyDepth has no dedicated flag; Enforcer.New's own default
	// (8 entries) covers it.
	be := borrow.New(cfg.AliasingEnforcement, 0)
	re := race.New(cfg.RaceDetector, cfg.WeakMemory, 8, rand.New(rand.NewSource(cfg.Seed)))
	// spec.md §6.2 expresses preemption as a 0.0-1.0 probability;
	// Manager.New wants the inverse, an interval in interpretive steps.
	interval := 0
	if cfg.PreemptionRate > 0 {
		interval = int(1.0 / cfg.PreemptionRate)
	}
	sm := sched.New(interval)
	sp := syncprim.New(re, sm)

	in := evalctx.New(store, addrs, be, re, sm, sp, log, sink, mc, mode)
	in.Bodies = prog.BodiesByID()
	in.TrackedAllocs = parseTrackedAllocs(cfg.TrackedAllocs)
	shim.RegisterAll(in)

	entry, ok := in.Bodies[prog.Entry]
	if !ok {
		return fmt.Errorf("entry point %d not found in program", prog.Entry)
	}
	// Synthesizing argv into entry's argument locals is a front-end
	// concern (spec.md §1 non-goals); the entry point is expected to
	// take no arguments or to read them via a shim.
	if _, ev := in.PushFrame(0, entry, nil, nil); ev != nil {
		sink.Emit(ev)
		os.Exit(exitCodeFor(ev))
	}

	driver := step.New(in, sm, cfg.StepLimit, cfg.GCInterval)
	outcome, ev := driver.Run()

	if cfg.MeasureMePath != "" {
		if text, derr := mc.Dump(); derr == nil {
			_ = os.WriteFile(cfg.MeasureMePath, []byte(text), 0o644)
		}
	}

	switch outcome {
	case step.OutcomeHalt:
		if leak := firstLeak(store); leak != nil {
			sink.Emit(leak)
			os.Exit(exitCodeFor(leak))
		}
		return nil
	default:
		sink.Emit(ev)
		os.Exit(exitCodeFor(ev))
		return nil
	}
}

// firstLeak scans every allocation still live at process exit and
// reports the first one whose kind isn't exempt (spec.md §3.1 "all
// others must be released by process exit or a leak is reported",
// §4.J Leak).
func firstLeak(store *memstore.Store) *diag.Event {
	for _, a := range store.Live() {
		if a.Kind.ExemptFromLeakCheck() {
			continue
		}
		return diag.New(diag.KindLeak, "allocation %s of kind %s (%d bytes) was never freed", a.ID, a.Kind, a.Size).
			With("alloc_id", a.ID).With("kind", a.Kind.String())
	}
	return nil
}

// parseTrackedAllocs turns the --track-alloc flag's raw strings into
// the id set evalctx.Interp.TrackedAllocs consults, accepting either a
// bare decimal or the "allocN" form ids.AllocID.String() prints.
func parseTrackedAllocs(raw []string) map[ids.AllocID]bool {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[ids.AllocID]bool, len(raw))
	for _, s := range raw {
		s = strings.TrimPrefix(strings.TrimSpace(s), "alloc")
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		out[ids.AllocID(n)] = true
	}
	return out
}

// exitCodeFor maps a halting diagnostic to the process exit code of
// spec.md §6.2: -1 (translated to 255, the POSIX truncation of -1) for
// interpreter-detected UB, 1 for every other halting class.
func exitCodeFor(ev *diag.Event) int {
	if ev == nil {
		return 0
	}
	if ev.Kind.Group() == diag.GroupUB {
		return 255
	}
	return 1
}
