//go:build linux

// Package procfs contains the low-level, allocation-light /proc readers that
// the sampler and probes build on. Nothing in here understands task
// interest, scheduler substates, or enrichment; it only turns /proc text
// files into typed Go values.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Stat holds the subset of /proc/<tid>/stat fields the sampler needs.
// Field numbers in comments are 1-based, matching `man 5 proc`.
type Stat struct {
	Pid         int    // (1) tid itself, read back for sanity checks
	Comm        string // (2) command name, stripped of parens
	State       byte   // (3) one of RSDZTtWXxKPI
	PPID        int    // (4)
	PGRP        int    // (5)
	UTime       uint64 // (14) user-mode jiffies
	STime       uint64 // (15) kernel-mode jiffies
	Priority    int64  // (18)
	Nice        int64  // (19)
	NumThreads  int64  // (20)
	StartTimeJ  uint64 // (22) jiffies since boot at process start
	Processor   int    // (39) CPU last executed on
}

// ReadStat parses /proc/<tid>/stat. The comm field is surrounded by
// parentheses and may itself contain spaces or parens, so the split point is
// the *last* ") " in the line, exactly as the kernel documents.
func ReadStat(tid int) (Stat, error) {
	var s Stat
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return s, ErrGone
		}
		return s, err
	}
	line := strings.TrimRight(string(b), "\n")

	open := strings.IndexByte(line, '(')
	close := strings.LastIndex(line, ")")
	if open < 0 || close < open {
		return s, ErrNoStat
	}
	pid, err := strconv.Atoi(line[:open-1])
	if err != nil {
		return s, ErrNoStat
	}
	s.Pid = pid
	s.Comm = line[open+1 : close]

	rest := strings.Fields(line[close+2:])
	get := func(idx int) (string, error) {
		if idx >= len(rest) {
			return "", ErrShortStat
		}
		return rest[idx], nil
	}
	// rest[0] is field 3 (state); rest[i] is field i+3.
	if v, err := get(0); err == nil && len(v) == 1 {
		s.State = v[0]
	} else {
		return s, ErrShortStat
	}
	if v, err := get(1); err == nil {
		s.PPID, _ = strconv.Atoi(v)
	}
	if v, err := get(2); err == nil {
		s.PGRP, _ = strconv.Atoi(v)
	}
	if v, err := get(11); err == nil { // field 14
		s.UTime, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, err := get(12); err == nil { // field 15
		s.STime, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, err := get(15); err == nil { // field 18
		s.Priority, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, err := get(16); err == nil { // field 19
		s.Nice, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, err := get(17); err == nil { // field 20
		s.NumThreads, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, err := get(19); err == nil { // field 22
		s.StartTimeJ, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, err := get(36); err == nil { // field 39
		s.Processor, _ = strconv.Atoi(v)
	}
	return s, nil
}

// IsIdleWorker reports whether comm names a kernel idle/worker thread that
// the sampler skips by default (kswapd, migration, ksoftirqd, rcu_*, etc).
// These never carry user-visible work and would otherwise dominate output.
func IsIdleWorker(comm string) bool {
	switch {
	case strings.HasPrefix(comm, "kswapd"),
		strings.HasPrefix(comm, "migration/"),
		strings.HasPrefix(comm, "ksoftirqd/"),
		strings.HasPrefix(comm, "rcu_"),
		strings.HasPrefix(comm, "watchdog/"),
		strings.HasPrefix(comm, "cpuhp/"),
		strings.HasPrefix(comm, "idle_inject/"),
		comm == "kthreadd":
		return true
	}
	return false
}

// Flags holds the PF_* process flags from /proc/<tid>/status's "Kthread"-ish
// classification. Go has no cgo access to PF_KTHREAD directly, so threadness
// is inferred the unprivileged way: a kernel thread has no VmSize line in
// status (its address space is the kernel's).
type Flags struct {
	IsKernelThread bool
}

// ReadFlags inspects /proc/<tid>/status for the VmSize line to approximate
// PF_KTHREAD without needing the raw task_struct flags word.
func ReadFlags(tid int) (Flags, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return Flags{}, ErrGone
		}
		return Flags{}, err
	}
	defer f.Close()

	fl := Flags{IsKernelThread: true}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "VmSize:") {
			fl.IsKernelThread = false
			break
		}
	}
	return fl, nil
}

// SyscallInfo is the parsed form of /proc/<tid>/syscall.
type SyscallInfo struct {
	Number int64
	Args   [6]uint64
	SP, PC uint64
}

// ReadSyscall parses /proc/<tid>/syscall, the kernel's unprivileged window
// into the saved register frame of a blocked task. The first field is -1
// when the task is not inside a syscall (running in userspace or the string
// is literally "running").
func ReadSyscall(tid int) (SyscallInfo, error) {
	var si SyscallInfo
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/syscall", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return si, ErrGone
		}
		return si, ErrNoSyscall
	}
	line := strings.TrimSpace(string(b))
	if line == "running" {
		return si, ErrNotInSyscall
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return si, ErrNoSyscall
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return si, ErrNoSyscall
	}
	if n < 0 {
		return si, ErrNotInSyscall
	}
	si.Number = n
	for i := 0; i < 6 && i+1 < len(fields)-2; i++ {
		si.Args[i], _ = parseHex(fields[i+1])
	}
	if len(fields) >= 3 {
		si.SP, _ = parseHex(fields[len(fields)-2])
		si.PC, _ = parseHex(fields[len(fields)-1])
	}
	return si, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}

// ResolveFD returns the symlink target of /proc/<tid>/fd/<fd>, e.g.
// "socket:[12345]", "anon_inode:[io_uring]", or a real file path.
func ResolveFD(tid, fd int) (string, error) {
	target, err := os.Readlink(fmt.Sprintf("/proc/%d/fd/%d", tid, fd))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrGone
		}
		return "", ErrNoFD
	}
	return target, nil
}

// CgroupPath returns the unified (v2, "0::") cgroup path reported in
// /proc/<tid>/cgroup, e.g. "/user.slice/user-1000.slice"; on hosts without
// a unified line it returns the path of the first hierarchy line that has
// one. The Sampler hashes this path into the sample's cgroup id.
func CgroupPath(tid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrGone
		}
		return "", err
	}
	for _, line := range strings.Split(string(b), "\n") {
		if strings.HasPrefix(line, "0::") {
			return strings.TrimPrefix(line, "0::"), nil
		}
	}
	// Hybrid/v1-only hosts: fall back to the first non-empty line's path.
	for _, line := range strings.Split(string(b), "\n") {
		if parts := strings.SplitN(line, ":", 3); len(parts) == 3 && parts[2] != "" {
			return parts[2], nil
		}
	}
	return "", nil
}

// PIDNamespaceID returns the inode number of /proc/<tid>/ns/pid, a stable
// per-namespace identifier usable as the pidns_id column.
func PIDNamespaceID(tid int) (uint64, error) {
	fi, err := os.Stat(fmt.Sprintf("/proc/%d/ns/pid", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrGone
		}
		return 0, err
	}
	return inodeOf(fi), nil
}

// Schedstat holds the three whitespace-separated counters from
// /proc/<tid>/schedstat: time spent on cpu, time spent waiting on the
// runqueue, and the number of timeslices, all in nanoseconds (first two).
type Schedstat struct {
	RunNs  uint64
	WaitNs uint64
	Slices uint64
}

// ReadSchedstat parses /proc/<tid>/schedstat. The sampler does not call it:
// taskiter.DecodeSchedSubstate infers the on_cpu/on_rq bits from Stat and
// /proc/stat instead.
func ReadSchedstat(tid int) (Schedstat, error) {
	var ss Schedstat
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/schedstat", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return ss, ErrGone
		}
		return ss, err
	}
	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		return ss, nil
	}
	ss.RunNs, _ = strconv.ParseUint(fields[0], 10, 64)
	ss.WaitNs, _ = strconv.ParseUint(fields[1], 10, 64)
	ss.Slices, _ = strconv.ParseUint(fields[2], 10, 64)
	return ss, nil
}

// ReadEffectiveUID parses the "Uid:" line of /proc/<tid>/status, returning
// the second field (effective uid).
func ReadEffectiveUID(tid int) (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrGone
		}
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				uid, err := strconv.Atoi(fields[2])
				return uid, err
			}
		}
	}
	return 0, ErrNoStat
}

// CtxSwitches holds the cumulative voluntary/involuntary context-switch
// counters from /proc/<tid>/status, used by the stack-cache freshness rule:
// an unchanged total since the last sample means the cached stack is still
// valid.
type CtxSwitches struct {
	Nvcsw, Nivcsw uint64
}

// ReadCtxSwitches parses the "voluntary_ctxt_switches"/
// "nonvoluntary_ctxt_switches" lines of /proc/<tid>/status.
func ReadCtxSwitches(tid int) (CtxSwitches, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return CtxSwitches{}, ErrGone
		}
		return CtxSwitches{}, err
	}
	defer f.Close()

	var cs CtxSwitches
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "voluntary_ctxt_switches:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "voluntary_ctxt_switches:"))
			cs.Nvcsw, _ = strconv.ParseUint(v, 10, 64)
		case strings.HasPrefix(line, "nonvoluntary_ctxt_switches:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "nonvoluntary_ctxt_switches:"))
			cs.Nivcsw, _ = strconv.ParseUint(v, 10, 64)
		}
	}
	return cs, nil
}

// RunningProcessor reads /proc/stat's per-cpu lines once, so the sampler can
// cross-check a task's Stat.Processor field against a CPU that is actually
// non-idle this tick.
func RunningProcessor() (map[int]bool, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[int]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "cpu") || line[3] < '0' || line[3] > '9' {
			continue
		}
		var idx int
		var rest string
		if _, err := fmt.Sscanf(line, "cpu%d %s", &idx, &rest); err != nil {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		idle, _ := strconv.ParseUint(fields[4], 10, 64)
		out[idx] = idle == 0
	}
	return out, sc.Err()
}
