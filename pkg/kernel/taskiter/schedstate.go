//go:build linux

package taskiter

import (
	"github.com/tanelpoder/xcapture-go/internal/procfs"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// DecodeSchedSubstate approximates the scheduler micro-state bits that a
// BPF program could read directly off task_struct: on_cpu is inferred from
// the stat "processor" field agreeing with a currently non-idle CPU in
// /proc/stat; on_rq is inferred from state==running while not on_cpu
// (runnable but waiting its turn). migration_pending has no unprivileged
// /proc source and is always reported false — see the design notes for why
// this is an accepted gap rather than a fabricated signal.
func DecodeSchedSubstate(st procfs.Stat, runningCPUs map[int]bool) xcapture.SchedSubstate {
	onCPU := runningCPUs[st.Processor]
	running := st.State == 'R'
	return xcapture.SchedSubstate{
		OnCPU:      onCPU && running,
		OnRunqueue: running && !onCPU,
	}
}
