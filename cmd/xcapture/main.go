//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanelpoder/xcapture-go/pkg/consumer"
	"github.com/tanelpoder/xcapture-go/pkg/consumer/columns"
	"github.com/tanelpoder/xcapture-go/pkg/driver"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/probes"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/sampler"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/system/cgroup"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

const version = "0.1.0"

type opts struct {
	all           bool
	pid           int
	tgid          int
	trace         string
	stacks        bool
	kernelStacks  bool
	userStacks    bool
	printStacks   bool
	freqHz        int
	outputDir     string
	csvLines      bool
	columnsFlag   string
	addColumns    string
	wide          bool
	iterations    int
	daemonPort    int
	listColumns   bool
	showVersion   bool
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "xcapture",
		Short: "Sample Linux thread activity via /proc, ptrace, and block-layer tracing",
		Long: `xcapture periodically samples every thread on the system (or a filtered
subset) and reports what each one is doing: its scheduling state, the
syscall it's blocked in, what file descriptor or socket that syscall
touches, and the kernel/user stack responsible — all built from /proc,
ptrace, and the block-layer trace pipe rather than a privileged kernel
module.

Examples:
  xcapture -a -F 1
  xcapture -p 12345 -t iorq,syscall -k -u -o /var/log/xcapture
  xcapture -g narrow -n 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	f := root.Flags()
	f.BoolVarP(&o.all, "all", "a", false, "show every task, not just active/interesting ones")
	f.IntVarP(&o.pid, "pid", "P", 0, "filter samples to a single tid (0 = no filter)")
	f.IntVarP(&o.tgid, "tgid", "p", 0, "filter samples to a thread group id (0 = no filter)")
	f.StringVarP(&o.trace, "trace", "t", "", "comma-separated active probes to enable: iorq,syscall")
	f.BoolVarP(&o.stacks, "stacks", "T", false, "shorthand for --kernel-stacks --user-stacks")
	f.IntVarP(&o.freqHz, "freq", "F", 1, "sampling frequency in Hz")
	f.StringVarP(&o.outputDir, "output-dir", "o", "", "write CSV streams to this directory")
	f.BoolVarP(&o.kernelStacks, "kernel-stacks", "k", false, "capture kernel stacks")
	f.BoolVarP(&o.userStacks, "user-stacks", "u", false, "capture user stacks (requires the syscall probe)")
	f.BoolVarP(&o.printStacks, "print-stacks", "s", false, "print unique stack hashes seen each tick")
	f.BoolVarP(&o.csvLines, "csv-lines", "C", false, "print CSV-like lines to stdout instead of a formatted table")
	f.StringVarP(&o.columnsFlag, "columns", "g", "normal", "column set: narrow, normal, wide, all, or a comma list")
	f.StringVarP(&o.addColumns, "add-columns", "G", "", "comma list of extra columns to append")
	f.BoolVarP(&o.wide, "wide", "w", false, "shorthand for --columns wide")
	f.IntVarP(&o.iterations, "iterations", "n", 0, "number of ticks to run (0 = run until interrupted)")
	f.IntVar(&o.daemonPort, "daemon-port-threshold", 10000, "local ports at or below this are treated as daemon sockets")
	f.BoolVarP(&o.listColumns, "list-columns", "l", false, "list every available column name and exit")
	f.BoolVarP(&o.showVersion, "version", "v", false, "print version and exit")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	if o.showVersion {
		fmt.Println("xcapture-go", version)
		return nil
	}
	if o.listColumns {
		for _, name := range columns.All {
			fmt.Println(name)
		}
		return nil
	}

	setupLogging()

	if v, detail, err := cgroup.Detect(); err != nil {
		slog.Warn("cgroup hierarchy detection failed", "error", err)
	} else {
		slog.Info("cgroup hierarchy detected", "version", v.String(), "detail", detail)
	}

	if o.freqHz <= 0 {
		return fmt.Errorf("freq must be > 0")
	}
	interval := time.Second / time.Duration(o.freqHz)

	colNames, err := resolveColumns(o)
	if err != nil {
		return err
	}

	snapshotDir := os.Getenv("XCAPTURE_BPFFS")
	tasks, iorqs, stacks, err := store.Load(snapshotDir)
	if err != nil {
		slog.Warn("snapshot load failed, starting fresh", "error", err)
		tasks, iorqs, stacks = store.New(), store.NewIorqTracking(), store.NewEmittedStacks()
	}

	sampleRB := ringbuf.New[xcapture.TaskSample](4096)
	stackRB := ringbuf.New[xcapture.StackTrace](1024)
	scCompRB := ringbuf.New[xcapture.SyscallCompletion](4096)
	ioCompRB := ringbuf.New[xcapture.IorqCompletion](4096)

	probeSet := map[string]bool{}
	for _, p := range strings.Split(o.trace, ",") {
		if p = strings.TrimSpace(p); p != "" {
			probeSet[p] = true
		}
	}

	var regs sampler.RegisterSource
	var syscallProbe *probes.SyscallProbe
	if probeSet["syscall"] || o.userStacks || o.stacks {
		syscallProbe = probes.NewSyscallProbe(tasks, scCompRB, slog.Default())
		regs = syscallProbe
	}

	var iorqProbe *probes.IorqProbe
	if probeSet["iorq"] {
		iorqProbe = probes.NewIorqProbe(tasks, iorqs, ioCompRB, slog.Default())
	}

	smp := sampler.New(sampler.Config{
		ShowAll:             o.all,
		TGIDFilter:          o.tgid,
		TidFilter:           o.pid,
		DaemonPortThreshold: uint16(o.daemonPort),
		KernelStacks:        o.kernelStacks || o.stacks,
		UserStacks:          o.userStacks || o.stacks,
		OwnPid:              os.Getpid(),
	}, tasks, iorqs, stacks, sampleRB, stackRB, regs)

	cons, err := consumer.New(consumer.Config{
		OutputDir:   o.outputDir,
		PrettyTable: !o.csvLines,
		ColumnNames: colNames,
		PrintStacks: o.printStacks,
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}

	drv := driver.New(driver.Config{Interval: interval, Iterations: o.iterations}, slog.Default(),
		smp, iorqProbe, sampleRB, stackRB, scCompRB, ioCompRB, cons)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGPIPE (e.g. output piped into a reader that exits early, like "head")
	// is also a stop condition, but NotifyContext doesn't carry it: its
	// default disposition is process termination, which would skip the
	// snapshot save below, so it needs its own explicit Notify wired into
	// the same cancellation.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pipeCh := make(chan os.Signal, 1)
	signal.Notify(pipeCh, syscall.SIGPIPE)
	defer signal.Stop(pipeCh)
	go func() {
		select {
		case <-pipeCh:
			slog.Warn("received SIGPIPE, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := drv.Run(ctx)

	if closeErr := cons.Close(); closeErr != nil {
		slog.Warn("closing CSV streams", "error", closeErr)
	}
	if syscallProbe != nil {
		syscallProbe.DetachAll()
	}
	if err := store.Save(snapshotDir, tasks, iorqs, stacks); err != nil {
		slog.Warn("snapshot save failed", "error", err)
	}

	return runErr
}

func resolveColumns(o opts) ([]string, error) {
	base := o.columnsFlag
	if o.wide {
		base = "wide"
	}

	var names []string
	if set, ok := columns.Set(base); ok {
		names = set
	} else {
		for _, n := range strings.Split(base, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}

	for _, n := range strings.Split(o.addColumns, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}

	if _, err := columns.Resolve(names); err != nil {
		return nil, err
	}
	return names, nil
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("XCAPTURE_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

