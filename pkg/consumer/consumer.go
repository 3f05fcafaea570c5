// Package consumer implements the single-threaded event loop that drains
// the sample, stack, and completion ring buffers once per tick: formatting
// through the column-table renderer or writing fixed-column CSV streams,
// and maintaining the username, cgroup-id, and symbolized-stack caches.
package consumer

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/tanelpoder/xcapture-go/internal/procfs"
	"github.com/tanelpoder/xcapture-go/pkg/consumer/columns"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// Symbolizer turns raw frame addresses into human-readable symbol strings.
// A nil Symbolizer degrades every SYM() lookup to a raw hex address list,
// a pluggable seam, not a required feature.
type Symbolizer interface {
	Symbolize(addrs []uint64, kind xcapture.StackKind) []string
}

// Config carries the consumer's output-mode tunables.
type Config struct {
	OutputDir   string // empty disables CSV output entirely
	PrettyTable bool   // stdout column table vs CSV-like stdout lines
	ColumnNames []string
	PrintStacks bool
	Symbolizer  Symbolizer
}

// Consumer drains rings and renders/persists their contents.
type Consumer struct {
	cfg  Config
	cols []columns.Column

	usernames *usernameCache
	cgroups   *cgroupPathCache
	stackSyms *stackSymbolCache

	tw *tabwriter.Writer

	samplesCSV *rotatingCSV
	syscendCSV *rotatingCSV
	iorqendCSV *rotatingCSV
	kstacksCSV *rotatingCSV
	ustacksCSV *rotatingCSV
	cgroupsCSV *rotatingCSV

	tickStacks map[uint64]xcapture.StackKind

	log *slog.Logger
}

// New constructs a Consumer. cfg.ColumnNames must already be resolved
// (narrow/normal/wide/all expanded, -g/-G applied) by the caller.
func New(cfg Config, log *slog.Logger) (*Consumer, error) {
	if log == nil {
		log = slog.Default()
	}
	cols, err := columns.Resolve(cfg.ColumnNames)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		cfg:        cfg,
		cols:       cols,
		usernames:  newUsernameCache(),
		cgroups:    newCgroupPathCache(),
		stackSyms:  newStackSymbolCache(),
		tickStacks: make(map[uint64]xcapture.StackKind),
		log:        log,
	}

	if cfg.PrettyTable {
		c.tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		c.printHeader()
	}

	if cfg.OutputDir != "" {
		c.samplesCSV = newRotatingCSV(cfg.OutputDir, "xcapture_samples", headersFor(columns.CSVColumns))
		c.syscendCSV = newRotatingCSV(cfg.OutputDir, "xcapture_syscend",
			[]string{"tid", "tgid", "syscall", "seq_num", "enter_ktime", "exit_ktime", "return_value"})
		c.iorqendCSV = newRotatingCSV(cfg.OutputDir, "xcapture_iorqend",
			[]string{"insert_tid", "insert_tgid", "issue_tid", "issue_tgid", "seq_num",
				"insert_ktime", "issue_ktime", "complete_ktime", "major", "minor", "sector", "bytes"})
		c.kstacksCSV = newRotatingCSV(cfg.OutputDir, "xcapture_kstacks", []string{"hash", "symbols"})
		c.ustacksCSV = newRotatingCSV(cfg.OutputDir, "xcapture_ustacks", []string{"hash", "symbols"})
		c.cgroupsCSV = newRotatingCSV(cfg.OutputDir, "xcapture_cgroups", []string{"id", "path"})
	}

	return c, nil
}

func headersFor(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		col, _ := columns.Lookup(n)
		out[i] = col.Header
	}
	return out
}

func (c *Consumer) printHeader() {
	for i, col := range c.cols {
		if i > 0 {
			fmt.Fprint(c.tw, "\t")
		}
		fmt.Fprint(c.tw, col.Header)
	}
	fmt.Fprintln(c.tw)
	c.tw.Flush()
}

// ResetTick clears the per-tick unique-stack tracker; the Driver calls this
// at the start of every iteration.
func (c *Consumer) ResetTick() {
	c.tickStacks = make(map[uint64]xcapture.StackKind)
}

// Samples renders/persists a batch of TaskSample records.
func (c *Consumer) Samples(samples []xcapture.TaskSample) {
	for _, s := range samples {
		c.enrichUsernameAndCgroupPath(&s)

		if c.cfg.PrettyTable {
			c.printRow(s)
		} else {
			fields := make([]string, len(c.cols))
			for i, col := range c.cols {
				fields[i] = col.Format(s)
			}
			fmt.Println(strings.Join(fields, ","))
		}
		if c.samplesCSV != nil {
			_ = c.samplesCSV.WriteRow(s.SampleWallclock, c.csvRow(s))
		}
	}
}

func (c *Consumer) enrichUsernameAndCgroupPath(s *xcapture.TaskSample) {
	_ = c.usernames.Lookup(s.EffectiveUID) // warms the cache; column formatting reads uid directly
	if s.CgroupID == 0 {
		return
	}
	if c.cgroupsCSV == nil {
		return
	}
	if _, already := c.cgroups.byID[s.CgroupID]; already {
		return
	}
	path, _ := procfs.CgroupPath(s.Tid)
	resolved := c.cgroups.Resolve(s.CgroupID, path)
	_ = c.cgroupsCSV.WriteRow(s.SampleWallclock, []string{strconv.FormatUint(s.CgroupID, 10), resolved})
}

func (c *Consumer) printRow(s xcapture.TaskSample) {
	for i, col := range c.cols {
		if i > 0 {
			fmt.Fprint(c.tw, "\t")
		}
		fmt.Fprint(c.tw, col.Format(s))
	}
	fmt.Fprintln(c.tw)
	c.tw.Flush()
}

func (c *Consumer) csvRow(s xcapture.TaskSample) []string {
	out := make([]string, len(columns.CSVColumns))
	for i, name := range columns.CSVColumns {
		col, _ := columns.Lookup(name)
		out[i] = col.Format(s)
	}
	return out
}

// SyscallCompletions persists syscall-completion events; they have no
// stdout presence and appear only in the syscend CSV.
func (c *Consumer) SyscallCompletions(events []xcapture.SyscallCompletion) {
	if c.syscendCSV == nil {
		return
	}
	now := nowForRotation()
	for _, e := range events {
		_ = c.syscendCSV.WriteRow(now, []string{
			strconv.Itoa(e.Tid), strconv.Itoa(e.Tgid), strconv.FormatInt(e.SyscallNr, 10),
			strconv.FormatUint(e.SeqNum, 10), strconv.FormatInt(e.EnterKtime, 10),
			strconv.FormatInt(e.ExitKtime, 10), strconv.FormatInt(e.ReturnValue, 10),
		})
	}
}

// IorqCompletions persists block I/O completion events.
func (c *Consumer) IorqCompletions(events []xcapture.IorqCompletion) {
	if c.iorqendCSV == nil {
		return
	}
	now := nowForRotation()
	for _, e := range events {
		_ = c.iorqendCSV.WriteRow(now, []string{
			strconv.Itoa(e.InsertTid), strconv.Itoa(e.InsertTgid),
			strconv.Itoa(e.IssueTid), strconv.Itoa(e.IssueTgid),
			strconv.FormatUint(e.SeqNum, 10),
			strconv.FormatInt(e.InsertKtime, 10), strconv.FormatInt(e.IssueKtime, 10), strconv.FormatInt(e.CompleteKtime, 10),
			strconv.Itoa(e.Major), strconv.Itoa(e.Minor), strconv.FormatUint(e.Sector, 10), strconv.FormatUint(uint64(e.Bytes), 10),
		})
	}
}

// StackTraces symbolizes (if configured) and persists newly emitted stack
// traces, and records their hashes for the end-of-tick unique-stack dump.
func (c *Consumer) StackTraces(traces []xcapture.StackTrace) {
	now := nowForRotation()
	for _, t := range traces {
		c.tickStacks[t.Hash] = t.Kind

		sym, ok := c.stackSyms.Get(t.Hash, t.Kind)
		if !ok {
			sym = symbolize(c.cfg.Symbolizer, t)
			c.stackSyms.Set(t.Hash, t.Kind, sym)
		}

		target := c.kstacksCSV
		if t.Kind == xcapture.StackUser {
			target = c.ustacksCSV
		}
		if target != nil {
			_ = target.WriteRow(now, []string{fmt.Sprintf("%016x", t.Hash), sym})
		}
	}
}

func symbolize(sym Symbolizer, t xcapture.StackTrace) string {
	if sym == nil {
		parts := make([]string, len(t.Addrs))
		for i, a := range t.Addrs {
			parts[i] = fmt.Sprintf("%#x", a)
		}
		return joinHex(parts)
	}
	return joinHex(sym.Symbolize(t.Addrs, t.Kind))
}

func joinHex(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ";"
		}
		out += p
	}
	return out
}

// PrintTickStacks dumps the set of unique stack hashes observed in the
// just-finished tick to stdout, when stack printing is enabled.
func (c *Consumer) PrintTickStacks() {
	if !c.cfg.PrintStacks || len(c.tickStacks) == 0 {
		return
	}
	for hash, kind := range c.tickStacks {
		fmt.Printf("# stack %s %016x\n", kind, hash)
	}
}

// Close flushes and closes every open CSV stream.
func (c *Consumer) Close() error {
	var first error
	for _, f := range []*rotatingCSV{c.samplesCSV, c.syscendCSV, c.iorqendCSV, c.kstacksCSV, c.ustacksCSV, c.cgroupsCSV} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
