//go:build linux

package sampler

import (
	"github.com/tanelpoder/xcapture-go/internal/procfs"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/enrich"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/taskiter"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// snapshotStacks implements step 8: reuse the cached stack when the task's
// total context-switch count hasn't moved and it isn't on CPU; otherwise
// re-walk and, for a newly observed hash, reserve a StackTrace record.
func (s *Sampler) snapshotStacks(tk taskiter.Task, entry *store.TaskEntry, si procfs.SyscallInfo, inSyscall bool, sample *xcapture.TaskSample) {
	if !s.cfg.KernelStacks && !s.cfg.UserStacks {
		return
	}

	cs, _ := procfs.ReadCtxSwitches(tk.Tid)
	total := cs.Nvcsw + cs.Nivcsw
	onCPU := sample.SchedSubstate.OnCPU
	reuse := total == entry.LastTotalCtxsw && !onCPU

	if s.cfg.KernelStacks {
		if reuse && entry.LastKstackHash != 0 {
			sample.KstackHash = entry.LastKstackHash
		} else if addrs := enrich.ReadKernelStack(tk.Tid); len(addrs) > 0 {
			hash := enrich.HashStack(addrs)
			sample.KstackHash = hash
			entry.LastKstackHash = hash
			s.reserveStackTrace(hash, xcapture.StackKernel, tk.Tid, addrs)
		}
	}

	if s.cfg.UserStacks && inSyscall && s.regs != nil {
		s.regs.EnsureAttached(tk.Tid)
		if reuse && entry.LastUstackHash != 0 {
			sample.UstackHash = entry.LastUstackHash
		} else if fp, sp, ok := s.regs.Registers(tk.Tid); ok {
			addrs := enrich.WalkUserStack(tk.Tid, fp, sp)
			if len(addrs) > 0 {
				hash := enrich.HashStack(addrs)
				sample.UstackHash = hash
				entry.LastUstackHash = hash
				s.reserveStackTrace(hash, xcapture.StackUser, tk.Tid, addrs)
			}
		}
	}

	entry.LastTotalCtxsw = total
	entry.Nvcsw, entry.Nivcsw = cs.Nvcsw, cs.Nivcsw
}

// reserveStackTrace checks EmittedStacks before reserving a ring slot; on a
// failed reservation the hash must NOT be marked seen, so a later tick gets
// another chance to emit the trace.
func (s *Sampler) reserveStackTrace(hash uint64, kind xcapture.StackKind, tid int, addrs []uint64) {
	if !s.stacks.CheckAndMark(hash) {
		return
	}
	trace := xcapture.StackTrace{Hash: hash, Kind: kind, Tid: tid, Addrs: addrs}
	if !s.stackRB.TryEmit(trace) {
		s.stacks.Unmark(hash)
		return
	}
}

// attributeIorq implements step 9: snapshot LastIorqRQ and confirm
// ownership against IorqTracking before marking the sample iorq-sampled.
func (s *Sampler) attributeIorq(entry *store.TaskEntry, sample *xcapture.TaskSample) {
	if entry.LastIorqRQ == 0 {
		return
	}
	rq, ok := s.iorqs.Get(entry.LastIorqRQ)
	if !ok {
		return
	}
	if rq.InsertTid == entry.Pid && rq.SeqNum == entry.IorqSequenceNum {
		entry.LastIorqSampled = true
		rq.Sampled = true
		sample.Extra.Set("iorq_major_minor", itoa2(rq.Major, rq.Minor))
	}
}

func itoa2(a, b int) string {
	return itoaSigned(a) + ":" + itoaSigned(b)
}

func itoaSigned(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
