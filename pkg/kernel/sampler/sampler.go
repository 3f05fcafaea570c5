//go:build linux

// Package sampler implements the per-tick task walk: fast-path filtering,
// passive syscall detection, the interest computation, fd[0] enrichment
// dispatch, stack snapshotting, and iorq attribution described for the
// in-kernel Sampler component. It is triggered once per driver tick and
// writes into the sample and stack ring buffers.
package sampler

import (
	"time"

	"github.com/tanelpoder/xcapture-go/internal/procfs"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/enrich"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/taskiter"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// RegisterSource supplies the frame-pointer/stack-pointer pair for a task
// currently under active ptrace supervision, the only unprivileged way to
// read another task's userspace registers. Tasks not under a SyscallProbe's
// supervision simply have no user-stack source; the Sampler degrades to
// "no user stack" rather than failing the whole sample.
type RegisterSource interface {
	Registers(tid int) (fp, sp uint64, ok bool)
	// EnsureAttached asks the source to start tracking tid if it isn't
	// already, best-effort: a budget-exhausted or failed attach just means
	// Registers keeps reporting ok=false for this tid.
	EnsureAttached(tid int)
}

// Config carries the tunables exposed via CLI flags.
type Config struct {
	ShowAll             bool
	TGIDFilter          int
	TidFilter           int
	DaemonPortThreshold uint16
	KernelStacks        bool
	UserStacks          bool
	OwnPid              int
}

// Sampler holds the three shared stores and ring buffers by explicit
// injection — never package-level state — so multiple independent
// instances can run in tests.
type Sampler struct {
	cfg Config

	tasks    *store.TaskStore
	iorqs    *store.IorqTracking
	stacks   *store.EmittedStacks
	sampleRB *ringbuf.Ring[xcapture.TaskSample]
	stackRB  *ringbuf.Ring[xcapture.StackTrace]

	regs RegisterSource
}

// New constructs a Sampler. regs may be nil if no active syscall probe is
// registered; user-stack collection then always degrades to empty.
func New(cfg Config, tasks *store.TaskStore, iorqs *store.IorqTracking, stacks *store.EmittedStacks,
	sampleRB *ringbuf.Ring[xcapture.TaskSample], stackRB *ringbuf.Ring[xcapture.StackTrace], regs RegisterSource) *Sampler {
	return &Sampler{cfg: cfg, tasks: tasks, iorqs: iorqs, stacks: stacks, sampleRB: sampleRB, stackRB: stackRB, regs: regs}
}

// Tick carries the single wall-clock reading the Driver captures once per
// iteration (StartKtime is StartWallclock as UnixNano); every sample
// produced by one call to Sample shares StartKtime.
type Tick struct {
	StartKtime     int64
	StartWallclock time.Time
}

// Sample runs one full task walk: the Go-native equivalent of "create a
// fresh iterator handle and read one byte from it".
func (s *Sampler) Sample(tick Tick) (produced int, err error) {
	tasks, err := taskiter.Walk(taskiter.Filter{OwnPid: s.cfg.OwnPid, TGIDFilter: s.cfg.TGIDFilter, TidFilter: s.cfg.TidFilter})
	if err != nil {
		return 0, err
	}

	running, _ := procfs.RunningProcessor()
	live := make(map[int]struct{}, len(tasks))

	for _, tk := range tasks {
		live[tk.Tid] = struct{}{}
		if s.sampleOne(tick, tk, running) {
			produced++
		}
	}

	s.tasks.Reconcile(live)
	return produced, nil
}

func (s *Sampler) sampleOne(tick Tick, tk taskiter.Task, running map[int]bool) bool {
	entry := s.tasks.GetOrCreate(tk.Tid)
	entry.Pid, entry.Tgid = tk.Tid, tk.Tgid
	entry.SampleStartKtime = tick.StartKtime
	actual := time.Now().UnixNano()
	entry.SampleActualKtime = actual

	si, scErr := procfs.ReadSyscall(tk.Tid)
	inSyscall := scErr == nil

	if inSyscall {
		entry.ScSampled = true
		entry.InSyscallNr = si.Number
		if entry.ScEnterTime == 0 {
			entry.ScEnterTime = actual
		}
	} else {
		entry.InSyscallNr = -1
	}

	var enrichRes enrich.Result
	if inSyscall {
		enrichRes = dispatchEnrichment(tk.Tid, si)
	}

	if !s.isInteresting(tk, inSyscall, entry, enrichRes) {
		return false
	}

	sample := xcapture.TaskSample{
		SampleStartKtime:  entry.SampleStartKtime,
		SampleActualKtime: entry.SampleActualKtime,
		SampleWallclock:   tick.StartWallclock.Add(time.Duration(actual - tick.StartKtime)),
		Tid:               tk.Tid,
		Tgid:              tk.Tgid,
		State:             xcapture.TaskState(tk.Stat.State),
		SchedSubstate:     taskiter.DecodeSchedSubstate(tk.Stat, running),
		Exe:               taskiter.ExeBasename(tk.Tid),
		Comm:              tk.Comm,
		SyscallNr:         -1,
		SyscallActiveNr:   entry.InSyscallNr,
		SyscallSeqNum:     entry.ScSequenceNum,
		IorqSeqNum:        entry.IorqSequenceNum,
	}
	if inSyscall {
		sample.SyscallNr = si.Number
		sample.SyscallArgs = si.Args
		sample.SyscallEnterWallclock = tick.StartWallclock.Add(time.Duration(entry.ScEnterTime - tick.StartKtime))
		if d := entry.SampleActualKtime - entry.ScEnterTime; d > 0 {
			sample.SyscallNsSoFar = time.Duration(d)
		}
	}
	sample.Filename = enrichRes.Filename
	sample.Connection = enrichRes.Connection
	sample.ConnState = enrichRes.ConnState
	sample.Extra = enrichRes.Extra
	if enrichRes.TCP != nil {
		sample.Extra.Set("tcp_state", enrichRes.TCP.State)
	}

	if uid, err := procfs.ReadEffectiveUID(tk.Tid); err == nil {
		sample.EffectiveUID = uid
	}
	if path, err := procfs.CgroupPath(tk.Tid); err == nil {
		entry.CgroupID = hashString(path)
	}
	if id, err := procfs.PIDNamespaceID(tk.Tid); err == nil {
		entry.PIDNSID = id
	}
	sample.CgroupID = entry.CgroupID
	sample.PIDNSID = entry.PIDNSID

	s.snapshotStacks(tk, entry, si, inSyscall, &sample)

	s.attributeIorq(entry, &sample)

	if !s.sampleRB.TryEmit(sample) {
		return false
	}
	return true
}

// dispatchEnrichment runs the fd[0] classification described in the
// Sampler's step 7; unrecognized syscalls simply produce no enrichment.
func dispatchEnrichment(tid int, si procfs.SyscallInfo) enrich.Result {
	switch enrich.Classify(si.Number) {
	case enrich.KindFDFirstArg:
		return enrich.File(tid, int64(si.Args[0]))
	case enrich.KindPollSelect:
		return enrich.PPollSelect(tid, si.Args[0])
	case enrich.KindIOUring:
		return enrich.IOUring(tid, int64(si.Args[0]))
	case enrich.KindLibaioSubmitGet:
		return enrich.AIO(tid, si.Number, si.Args)
	default:
		return enrich.Result{}
	}
}

// isInteresting applies the show_all / daemon-port / aio / io_uring rules.
func (s *Sampler) isInteresting(tk taskiter.Task, inSyscall bool, entry *store.TaskEntry, res enrich.Result) bool {
	if s.cfg.ShowAll {
		return true
	}
	if tk.Stat.State != 'S' && tk.Stat.State != 'D' {
		return true // non-sleeping tasks are always kept
	}
	if !inSyscall {
		return true
	}
	if res.TCP != nil || res.Connection.LocalPort != 0 {
		threshold := s.cfg.DaemonPortThreshold
		if threshold == 0 {
			threshold = 10000
		}
		if enrich.IsDaemonPort(res.ConnState, res.Connection.LocalPort, threshold) {
			return false
		}
		return true
	}
	if !res.Extra.Empty() {
		return true // aio/io_uring backlog present
	}
	return true
}

func hashString(s string) uint64 {
	const offset, prime = 14695981039346656037, 1099511628211
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}
