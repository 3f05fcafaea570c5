// Package xcapture holds the record types shared between the in-kernel
// (sampler/probe) side and the Consumer: the wire format of the sample,
// syscall-completion, I/O-request-completion, and stack-trace events, plus
// the state, connection and EXTRA_INFO value types they carry.
package xcapture

import (
	"strconv"
	"time"

	"github.com/tanelpoder/xcapture-go/pkg/types"
)

// TaskState mirrors the bottom byte of Linux's task_struct->state as
// decoded by /proc/<tid>/stat's state letter.
type TaskState byte

const (
	StateRunning         TaskState = 'R'
	StateSleeping        TaskState = 'S'
	StateDiskSleep       TaskState = 'D'
	StateStopped         TaskState = 'T'
	StateTracingStop     TaskState = 't'
	StateZombie          TaskState = 'Z'
	StateDead            TaskState = 'X'
	StateWaking          TaskState = 'W'
	StateParked          TaskState = 'P'
	StateIdle            TaskState = 'I'
)

// String renders the mnemonic printed in the STATE column: RUN, SLEEP,
// DISK, STOPPED, DEAD, WAKING, NOLOAD, IDLE, NEW, or a raw hex fallback
// for anything unrecognized.
func (s TaskState) String() string {
	switch s {
	case StateRunning:
		return "RUN"
	case StateSleeping:
		return "SLEEP"
	case StateDiskSleep:
		return "DISK"
	case StateStopped, StateTracingStop:
		return "STOPPED"
	case StateZombie, StateDead:
		return "DEAD"
	case StateWaking:
		return "WAKING"
	case StateParked:
		return "NOLOAD"
	case StateIdle:
		return "IDLE"
	case 0:
		return "NEW"
	default:
		return "0x" + strconv.FormatUint(uint64(s), 16)
	}
}

// SchedSubstate carries the scheduler micro-state bits that sit alongside
// the coarse task state: whether the task is actually executing, waiting
// runnable on a runqueue, or has a pending migration.
type SchedSubstate struct {
	OnCPU            bool
	OnRunqueue       bool
	MigrationPending bool
	InExecve         bool
	InIOWait         bool
}

// Suffix returns the "Q"/"M" decorations appended to the STATE column.
func (s SchedSubstate) Suffix() string {
	out := ""
	if s.OnRunqueue && !s.OnCPU {
		out += "Q"
	}
	if s.MigrationPending {
		out += "M"
	}
	return out
}

// TCPInfo is the subset of Linux's struct tcp_info surfaced in CONNECTION /
// EXTRA_INFO enrichment, decoded from the enrich package's socket reader.
type TCPInfo struct {
	State         string
	CAState       uint8
	Retransmits   uint8
	RTT           time.Duration
	RTTVar        time.Duration
	SndCwnd       uint32
	TotalRetrans  uint32
	BytesAcked    uint64
	BytesReceived uint64
	DeliveryRate  uint64
}

// Connection4 is a local/remote TCP 4-tuple.
type Connection4 struct {
	LocalAddr  string
	LocalPort  uint16
	RemoteAddr string
	RemotePort uint16
}

func (c Connection4) String() string {
	if c.LocalPort == 0 && c.RemotePort == 0 {
		return ""
	}
	return c.LocalAddr + ":" + itoa(int(c.LocalPort)) + "->" + c.RemoteAddr + ":" + itoa(int(c.RemotePort))
}

func itoa(v int) string {
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

// ExtraInfo is an ordered key/value document (never a bare map, so column
// output stays deterministic) carrying the non-trivial enrichment fields:
// aio inflight count, io_uring SQ/CQ depth and resolved filenames, io_uring
// opcode/flags/offset/length, and the full TCP statistics block.
type ExtraInfo struct {
	pairs []kv
}

type kv struct{ k, v string }

// Set appends or overwrites a key in insertion order.
func (e *ExtraInfo) Set(key, val string) {
	for i := range e.pairs {
		if e.pairs[i].k == key {
			e.pairs[i].v = val
			return
		}
	}
	e.pairs = append(e.pairs, kv{key, val})
}

// Empty reports whether no keys were ever set.
func (e *ExtraInfo) Empty() bool { return len(e.pairs) == 0 }

// String renders "k1=v1,k2=v2" in insertion order.
func (e *ExtraInfo) String() string {
	if e.Empty() {
		return ""
	}
	out := ""
	for i, p := range e.pairs {
		if i > 0 {
			out += ","
		}
		out += p.k + "=" + p.v
	}
	return out
}

// TaskSample is the producer(Sampler)->consumer record for one sampled task
// in one tick.
type TaskSample struct {
	// Tick timing
	SampleStartKtime  int64 // shared across every sample of this tick
	SampleActualKtime int64 // when this specific task was touched
	SampleWallclock   time.Time

	// Identity
	Tid      int
	Tgid     int
	PIDNSID  uint64
	CgroupID uint64

	// State
	State         TaskState
	SchedSubstate SchedSubstate
	EffectiveUID  int
	Exe           string
	Comm          string

	// Syscall
	SyscallNr       int64 // -1 when not in a syscall
	SyscallActiveNr int64 // TaskStore in-syscall nr, which the Sampler overwrites from its own passive read first, so it always equals SyscallNr
	SyscallArgs     [6]uint64
	SyscallEnterWallclock time.Time
	SyscallNsSoFar        time.Duration
	SyscallSeqNum         uint64
	IorqSeqNum            uint64

	// fd[0] enrichment
	Filename   string
	Connection Connection4
	ConnState  string
	Extra      ExtraInfo

	// Stacks
	KstackHash uint64
	UstackHash uint64
}

// SyscallCompletion is the producer(SyscallProbe)->consumer record emitted
// when a sampled syscall returns.
type SyscallCompletion struct {
	Tid         int
	Tgid        int
	SyscallNr   int64
	SeqNum      uint64
	EnterKtime  int64
	ExitKtime   int64
	ReturnValue int64
}

// IorqCompletion is the producer(IorqProbe)->consumer record emitted when a
// sampled block I/O request completes.
type IorqCompletion struct {
	InsertTid, InsertTgid int
	IssueTid, IssueTgid   int
	SeqNum                uint64
	InsertKtime           int64
	IssueKtime            int64
	CompleteKtime         int64
	Major, Minor          int
	Sector                uint64
	Bytes                 types.Bytes
	Flags                 uint32
	Errno                 int32
}

// StackKind distinguishes kernel- from user-space stack traces; both share
// the hash namespace convention of "kind tags the hash's meaning", so a
// StackTrace record always carries both.
type StackKind int

const (
	StackKernel StackKind = iota
	StackUser
)

func (k StackKind) String() string {
	if k == StackKernel {
		return "kernel"
	}
	return "user"
}

// StackTrace is the producer(Sampler)->consumer record emitted the first
// time a stack hash is observed.
type StackTrace struct {
	Hash  uint64
	Kind  StackKind
	Tid   int
	Addrs []uint64
}
