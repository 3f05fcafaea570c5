//go:build linux

package probes

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/types"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// debugfsTracePipe is where the kernel exposes the block subsystem's
// tracepoints without requiring BPF: /sys/kernel/debug/tracing/trace_pipe,
// filtered to the block event subsystem. When unreadable (no
// CAP_SYS_ADMIN, debugfs not mounted) IorqProbe falls back to periodic
// /sys/block/*/stat polling, which sees only per-device completion counts
// (see PollDiskstats).
const debugfsTracePipe = "/sys/kernel/debug/tracing/trace_pipe"

// IorqProbe tracks block I/O request lifecycle. Selection between the
// debugfs and diskstats backend is automatic and logged once at startup.
type IorqProbe struct {
	tasks  *store.TaskStore
	iorqs  *store.IorqTracking
	compRB *ringbuf.Ring[xcapture.IorqCompletion]
	log    *slog.Logger

	useDebugfs bool
	lastStats  map[string]devStat
	genCounter uint64
}

type devStat struct {
	insertCount, issueCount, completeCount uint64
}

// NewIorqProbe constructs a probe, auto-selecting its backend.
func NewIorqProbe(tasks *store.TaskStore, iorqs *store.IorqTracking, compRB *ringbuf.Ring[xcapture.IorqCompletion], log *slog.Logger) *IorqProbe {
	if log == nil {
		log = slog.Default()
	}
	p := &IorqProbe{tasks: tasks, iorqs: iorqs, compRB: compRB, log: log, lastStats: make(map[string]devStat)}
	if fi, err := os.Stat(debugfsTracePipe); err == nil && !fi.IsDir() {
		p.useDebugfs = true
		log.Info("iorq probe backend selected", "backend", "debugfs trace_pipe")
	} else {
		log.Info("iorq probe backend selected", "backend", "diskstats diff", "reason", "debugfs unavailable")
	}
	return p
}

// UsesDebugfs reports which backend was auto-selected at construction time:
// true means TailDebugfs should run in the background, false means the
// Driver should call PollDiskstats once per tick instead.
func (p *IorqProbe) UsesDebugfs() bool { return p.useDebugfs }

// iorqKey composes the synthetic IorqTracking key from (major, minor,
// sector, generation) since userspace has no real kernel request pointer.
func iorqKey(major, minor int, sector uint64, gen uint64) uint64 {
	return (uint64(major&0xfff) << 52) ^ (uint64(minor&0xfff) << 40) ^ (sector & 0xffffffffff) ^ (gen << 20)
}

// PollDiskstats compares each device's completed-I/O count (reads plus
// writes completed, from /sys/block/*/stat) with the previous poll; when it
// grew, it advances the generation counter and logs the delta at debug
// level. The counters are device-wide, so this backend creates no
// IorqTracking entries and emits no IorqCompletion records.
func (p *IorqProbe) PollDiskstats() error {
	devices, err := filepath.Glob("/sys/block/*/stat")
	if err != nil {
		return err
	}
	for _, path := range devices {
		dev := filepath.Base(filepath.Dir(path))
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fields := strings.Fields(string(b))
		if len(fields) < 11 {
			continue
		}
		// /sys/block/<dev>/stat: reads-completed reads-merged sectors-read
		// time-reading writes-completed writes-merged sectors-written
		// time-writing ios-in-progress time-ios weighted-time-ios.
		readsCompleted, _ := strconv.ParseUint(fields[0], 10, 64)
		writesCompleted, _ := strconv.ParseUint(fields[4], 10, 64)
		completeCount := readsCompleted + writesCompleted

		prev := p.lastStats[dev]
		if completeCount > prev.completeCount {
			p.genCounter++
			p.log.Debug("diskstats delta", "dev", dev, "completed_delta", completeCount-prev.completeCount)
		}
		p.lastStats[dev] = devStat{completeCount: completeCount}
	}
	return nil
}

// TailDebugfs streams the block subsystem's trace_pipe lines, parsing
// block_rq_insert/block_rq_issue/block_rq_complete events. It blocks until
// stop is closed or the pipe returns EOF (tracing disabled mid-run).
func (p *IorqProbe) TailDebugfs(stop <-chan struct{}) error {
	f, err := os.Open(debugfsTracePipe)
	if err != nil {
		return fmt.Errorf("open trace_pipe: %w", err)
	}
	defer f.Close()

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 64*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-stop:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			p.handleTraceLine(line)
		}
	}
}

// handleTraceLine parses one ftrace line for the three block tracepoints
// this probe cares about. Real ftrace lines look like:
//
//	kworker/0:1-123   [000] ...1  1234.567: block_rq_insert: 8,0 ... sector=100 ...
func (p *IorqProbe) handleTraceLine(line string) {
	switch {
	case strings.Contains(line, "block_rq_insert:"):
		p.onInsert(line)
	case strings.Contains(line, "block_rq_issue:"):
		p.onIssue(line)
	case strings.Contains(line, "block_rq_complete:"):
		p.onComplete(line)
	}
}

func extractTID(line string) int {
	// ftrace lines start with "<comm>-<pid>"; comm may contain hyphens, so
	// split from the right at the field boundary before the timestamp
	// brackets instead of assuming a fixed prefix shape.
	idx := strings.IndexByte(line, '[')
	if idx <= 0 {
		return 0
	}
	head := strings.TrimSpace(line[:idx])
	dash := strings.LastIndexByte(head, '-')
	if dash < 0 {
		return 0
	}
	tid, _ := strconv.Atoi(head[dash+1:])
	return tid
}

func extractDevSector(line string) (major, minor int, sector uint64) {
	fields := strings.Fields(line)
	for _, f := range fields {
		if strings.Contains(f, ",") && !strings.Contains(f, ":") {
			parts := strings.SplitN(strings.TrimSuffix(f, ","), ",", 2)
			if len(parts) == 2 {
				major, _ = strconv.Atoi(parts[0])
				minor, _ = strconv.Atoi(parts[1])
			}
		}
		if strings.HasPrefix(f, "sector=") {
			sector, _ = strconv.ParseUint(strings.TrimPrefix(f, "sector="), 10, 64)
		}
	}
	return
}

// rwbs bit flags, our own userspace-side encoding of the kernel's "rwbs"
// annotation characters (see blk_fill_rwbs in block/blk.h): the raw
// request->cmd_flags integer never reaches trace_pipe, only its decoded
// letters do, so this is the closest analog of xcapture.IorqCompletion.Flags
// obtainable from the debugfs backend.
const (
	rwbsRead = 1 << iota
	rwbsWrite
	rwbsDiscard
	rwbsFlush
	rwbsSync
	rwbsMeta
	rwbsAhead
)

func rwbsFlags(s string) uint32 {
	var f uint32
	for _, c := range s {
		switch c {
		case 'R':
			f |= rwbsRead
		case 'W':
			f |= rwbsWrite
		case 'D':
			f |= rwbsDiscard
		case 'F':
			f |= rwbsFlush
		case 'S':
			f |= rwbsSync
		case 'M':
			f |= rwbsMeta
		case 'A':
			f |= rwbsAhead
		}
	}
	return f
}

// extractBytesFlags parses the request size and rwbs flag letters carried
// by insert/issue lines: "bytes=" is the TP_printk-reported byte count,
// "rwbs=" is the flag-letter string.
func extractBytesFlags(line string) (bytes uint64, flags uint32) {
	fields := strings.Fields(line)
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "bytes="):
			bytes, _ = strconv.ParseUint(strings.TrimPrefix(f, "bytes="), 10, 64)
		case strings.HasPrefix(f, "rwbs="):
			flags = rwbsFlags(strings.TrimPrefix(f, "rwbs="))
		}
	}
	return
}

// extractErrno parses the completion errno carried by block_rq_complete
// lines ("errno=", the TP_printk's trailing %d error field).
func extractErrno(line string) int32 {
	fields := strings.Fields(line)
	for _, f := range fields {
		if strings.HasPrefix(f, "errno=") {
			n, _ := strconv.Atoi(strings.TrimPrefix(f, "errno="))
			return int32(n)
		}
	}
	return 0
}

func (p *IorqProbe) onInsert(line string) {
	tid := extractTID(line)
	major, minor, sector := extractDevSector(line)
	bytes, flags := extractBytesFlags(line)
	e, ok := p.tasks.Get(tid)
	if !ok {
		return
	}
	e.IorqSequenceNum++
	p.genCounter++
	key := iorqKey(major, minor, sector, p.genCounter)
	e.LastIorqRQ = key
	p.iorqs.Create(key, &store.IorqEntry{
		SeqNum: e.IorqSequenceNum, InsertTid: e.Pid, InsertTgid: e.Tgid,
		InsertKtime: time.Now().UnixNano(), Major: major, Minor: minor, Sector: sector,
		Bytes: bytes, Flags: flags,
	})
}

func (p *IorqProbe) onIssue(line string) {
	tid := extractTID(line)
	major, minor, sector := extractDevSector(line)
	bytes, flags := extractBytesFlags(line)
	e, ok := p.tasks.Get(tid)
	if !ok {
		return
	}
	key := e.LastIorqRQ
	if rq, ok := p.iorqs.Get(key); ok && rq.Sector == sector {
		rq.IssueTid, rq.IssueTgid = e.Pid, e.Tgid
		rq.IssueKtime = time.Now().UnixNano()
		if rq.Bytes == 0 {
			rq.Bytes = bytes
		}
		if rq.Flags == 0 {
			rq.Flags = flags
		}
		return
	}
	// Direct dispatch bypassing the scheduler: no prior insert seen.
	p.genCounter++
	e.IorqSequenceNum++
	newKey := iorqKey(major, minor, sector, p.genCounter)
	e.LastIorqRQ = newKey
	now := time.Now().UnixNano()
	p.iorqs.Create(newKey, &store.IorqEntry{
		SeqNum: e.IorqSequenceNum, InsertTid: e.Pid, InsertTgid: e.Tgid,
		IssueTid: e.Pid, IssueTgid: e.Tgid, InsertKtime: now, IssueKtime: now,
		Major: major, Minor: minor, Sector: sector, Bytes: bytes, Flags: flags,
	})
}

func (p *IorqProbe) onComplete(line string) {
	major, minor, sector := extractDevSector(line)
	errno := extractErrno(line)
	// The completion event carries no generation number, so the keys of the
	// 64 most recent generations are probed for this (major,minor,sector),
	// newest first; a request inserted more than 64 generations earlier is
	// not found and produces no completion record.
	var foundKey uint64
	var found *store.IorqEntry
	var minGen uint64
	if p.genCounter > 64 {
		minGen = p.genCounter - 64
	}
	for gen := p.genCounter; gen > minGen; gen-- {
		k := iorqKey(major, minor, sector, gen)
		if e, ok := p.iorqs.Get(k); ok {
			foundKey, found = k, e
			break
		}
	}
	if found == nil || !found.Sampled {
		if found != nil {
			p.iorqs.Delete(foundKey)
		}
		return
	}
	p.compRB.TryEmit(xcapture.IorqCompletion{
		InsertTid: found.InsertTid, InsertTgid: found.InsertTgid,
		IssueTid: found.IssueTid, IssueTgid: found.IssueTgid,
		SeqNum: found.SeqNum, InsertKtime: found.InsertKtime, IssueKtime: found.IssueKtime,
		CompleteKtime: time.Now().UnixNano(), Major: major, Minor: minor, Sector: sector,
		Bytes: types.Bytes(found.Bytes), Flags: found.Flags, Errno: errno,
	})
	p.iorqs.Delete(foundKey)
}
