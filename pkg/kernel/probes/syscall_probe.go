//go:build linux

// Package probes implements the two active producers the Sampler's passive
// observation can't see on its own: SyscallProbe, which tracks syscall
// entry/exit via ptrace to emit exact-duration completions, and IorqProbe,
// which tracks block I/O request lifecycle via diskstats/debugfs polling.
package probes

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// maxAttachesPerSecond bounds how fast EnsureAttached will seize new tasks.
// A tick that suddenly finds hundreds of newly-interesting tasks (e.g. a
// process fork storm) would otherwise try to PTRACE_SEIZE all of them in
// one tick; the limiter spreads attachment attempts out instead.
const maxAttachesPerSecond = 50

// MaxTracedTasks bounds how many tasks SyscallProbe will ptrace
// concurrently; process-wide ptrace of every task on a busy host has its
// own privilege/perf tradeoff, so attachment here is opt-in and capped.
const MaxTracedTasks = 256

type tracedTask struct {
	tid    int
	done   chan struct{}
	mu     sync.Mutex
	fp, sp uint64
	haveFP bool
}

// SyscallProbe attaches PTRACE_SEIZE + PTRACE_O_TRACESYSGOOD to a bounded
// set of tids and runs one PTRACE_SYSCALL loop per tid, delivering exactly
// one stop at syscall entry and one at exit.
type SyscallProbe struct {
	tasks        *store.TaskStore
	completionRB *ringbuf.Ring[xcapture.SyscallCompletion]
	log          *slog.Logger

	mu      sync.Mutex
	traced  map[int]*tracedTask
	limiter *rate.Limiter
}

// NewSyscallProbe constructs a probe writing completions into rb and
// maintaining sc_enter_time/in_syscall_nr/sc_sequence_num in tasks.
func NewSyscallProbe(tasks *store.TaskStore, rb *ringbuf.Ring[xcapture.SyscallCompletion], log *slog.Logger) *SyscallProbe {
	if log == nil {
		log = slog.Default()
	}
	return &SyscallProbe{
		tasks: tasks, completionRB: rb, log: log, traced: make(map[int]*tracedTask),
		limiter: rate.NewLimiter(rate.Limit(maxAttachesPerSecond), maxAttachesPerSecond),
	}
}

// Registers implements sampler.RegisterSource: it returns the last-observed
// frame-pointer/stack-pointer pair for a traced tid, read at its most
// recent ptrace stop.
func (p *SyscallProbe) Registers(tid int) (fp, sp uint64, ok bool) {
	p.mu.Lock()
	tt, exists := p.traced[tid]
	p.mu.Unlock()
	if !exists {
		return 0, 0, false
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.fp, tt.sp, tt.haveFP
}

// EnsureAttached implements sampler.RegisterSource: it attaches tid if not
// already traced, silently giving up when the traced-task budget is
// exhausted or the seize fails (logged at debug, not surfaced as an error).
func (p *SyscallProbe) EnsureAttached(tid int) {
	p.mu.Lock()
	_, already := p.traced[tid]
	p.mu.Unlock()
	if already {
		return
	}
	if !p.limiter.Allow() {
		return
	}
	if err := p.Attach(tid); err != nil {
		p.log.Debug("syscall probe attach skipped", "tid", tid, "error", err)
	}
}

// Attach seizes tid and starts its entry/exit tracking goroutine. Returns
// an error if the traced-task budget is exhausted or the seize fails.
func (p *SyscallProbe) Attach(tid int) error {
	p.mu.Lock()
	if len(p.traced) >= MaxTracedTasks {
		p.mu.Unlock()
		return fmt.Errorf("probes: traced task budget (%d) exhausted", MaxTracedTasks)
	}
	if _, already := p.traced[tid]; already {
		p.mu.Unlock()
		return nil
	}
	tt := &tracedTask{tid: tid, done: make(chan struct{})}
	p.traced[tid] = tt
	p.mu.Unlock()

	if err := unix.PtraceSeize(tid, unix.PTRACE_O_TRACESYSGOOD); err != nil {
		p.mu.Lock()
		delete(p.traced, tid)
		p.mu.Unlock()
		return fmt.Errorf("ptrace seize %d: %w", tid, err)
	}

	go p.runLoop(tt)
	return nil
}

// DetachAll stops tracking every currently traced tid, for use at shutdown
// so no tracee is left stopped-and-seized after the process exits.
func (p *SyscallProbe) DetachAll() {
	p.mu.Lock()
	tids := make([]int, 0, len(p.traced))
	for tid := range p.traced {
		tids = append(tids, tid)
	}
	p.mu.Unlock()
	for _, tid := range tids {
		p.Detach(tid)
	}
}

// Detach stops tracking tid; the goroutine exits on its next wait error
// once the tracee is no longer seized.
func (p *SyscallProbe) Detach(tid int) {
	p.mu.Lock()
	tt, ok := p.traced[tid]
	delete(p.traced, tid)
	p.mu.Unlock()
	if ok {
		close(tt.done)
		_ = unix.PtraceDetach(tid)
	}
}

// runLoop alternates PTRACE_SYSCALL stops between syscall-entry and
// syscall-exit, exactly as PTRACE_O_TRACESYSGOOD's SIGTRAP|0x80 signaling
// guarantees: odd stops are entries, even stops are exits.
func (p *SyscallProbe) runLoop(tt *tracedTask) {
	defer func() {
		p.mu.Lock()
		delete(p.traced, tt.tid)
		p.mu.Unlock()
	}()

	entry := true
	var enterTime int64
	var enterNr int64

	for {
		select {
		case <-tt.done:
			return
		default:
		}

		if err := unix.PtraceSyscall(tt.tid, 0); err != nil {
			return
		}
		var ws unix.WaitStatus
		if _, err := unix.Wait4(tt.tid, &ws, 0, nil); err != nil {
			return
		}
		if ws.Exited() || ws.Signaled() {
			return
		}

		rv, err := getRegs(tt.tid)
		if err != nil {
			continue
		}
		tt.mu.Lock()
		tt.fp, tt.sp, tt.haveFP = rv.FP, rv.SP, true
		tt.mu.Unlock()

		enterTime, enterNr = p.handleStop(tt.tid, entry, rv, enterTime, enterNr)
		entry = !entry
	}
}

// handleStop applies one ptrace stop's register snapshot to the tid's task
// entry. At entry it only stamps sc_enter_time/in_syscall_nr/
// sc_sequence_num — sc_sampled is the Sampler's field, set only when it
// observes the task mid-syscall during a tick (see sampler.sampleOne). At
// exit it reads and clears sc_sampled: a completion is emitted only if the
// Sampler actually caught this syscall in flight, never for every syscall a
// traced task happens to make. It returns the (enterTime, enterNr) pair to
// carry forward to the matching exit stop.
func (p *SyscallProbe) handleStop(tid int, entry bool, rv regView, prevEnterTime, prevEnterNr int64) (int64, int64) {
	e := p.tasks.GetOrCreate(tid)
	now := time.Now().UnixNano()

	if entry {
		e.ScEnterTime = now
		e.InSyscallNr = rv.SyscallNr
		e.ScSequenceNum++
		return now, rv.SyscallNr
	}

	wasSampled := e.ScSampled
	e.ScSampled = false
	if wasSampled {
		p.completionRB.TryEmit(xcapture.SyscallCompletion{
			Tid: tid, Tgid: e.Tgid, SyscallNr: prevEnterNr,
			SeqNum: e.ScSequenceNum, EnterKtime: prevEnterTime,
			ExitKtime: now, ReturnValue: rv.RetValue,
		})
	}
	e.InSyscallNr = -1
	return prevEnterTime, prevEnterNr
}
