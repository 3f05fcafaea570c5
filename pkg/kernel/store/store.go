// Package store holds the three process-wide mutable maps the Sampler and
// both probes share: TaskStore, IorqTracking, and EmittedStacks. They are
// modeled as typed, single-owner, mutex-guarded maps passed into
// constructors by explicit dependency injection — never package-level
// globals — so tests can run several independent instances in parallel.
package store

import "sync"

// TaskEntry is the TaskStore record for one kernel task id. Its lifetime is
// bound to the task: the Sampler deletes the entry once a tid stops showing
// up in a task walk, the closest unprivileged analog to a task-exit
// notification.
type TaskEntry struct {
	Pid, Tgid int

	SampleStartKtime  int64
	SampleActualKtime int64

	ScSampled     bool
	InSyscallNr   int64 // -1 == not in syscall
	ScEnterTime   int64 // time.Now().UnixNano() at entry; 0 == not yet stamped
	ScSequenceNum uint64

	IorqSequenceNum  uint64
	LastIorqRQ       uint64 // synthetic "request pointer" (see IorqTracking)
	LastIorqSampled  bool

	AioInflightReqs  int
	IOUringSQPending int
	IOUringCQPending int

	Nvcsw, Nivcsw  uint64
	LastTotalCtxsw uint64

	// Cache fields, never emitted: last-seen stacks and last-seen io_uring
	// SQE tuple, used to decide whether a fresh stack walk is needed.
	LastKstackHash uint64
	LastUstackHash uint64
	LastSQE        SQESnapshot

	PIDNSID  uint64
	CgroupID uint64
}

// SQESnapshot is the last io_uring submission-queue entry tuple observed for
// a task, cached so unchanged rings don't re-decode every tick.
type SQESnapshot struct {
	UserData uint64
	FD       int32
	RegIdx   int32
	Valid    bool
}

// TaskStore exposes an upsert-or-fetch that creates a zeroed entry on first
// access. Concurrent access from the Sampler and both probes is serialized
// by a single mutex; contention is expected to be low since writers act on
// disjoint tids almost always.
type TaskStore struct {
	mu      sync.Mutex
	entries map[int]*TaskEntry
}

// New returns an empty TaskStore.
func New() *TaskStore {
	return &TaskStore{entries: make(map[int]*TaskEntry)}
}

// GetOrCreate returns the entry for tid, creating a zeroed one (with
// InSyscallNr defaulted to -1, matching "not in a syscall") if absent.
func (s *TaskStore) GetOrCreate(tid int) *TaskEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[tid]
	if !ok {
		e = &TaskEntry{InSyscallNr: -1}
		s.entries[tid] = e
	}
	return e
}

// Get returns the entry for tid without creating one.
func (s *TaskStore) Get(tid int) (*TaskEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[tid]
	return e, ok
}

// Delete removes the entry for tid.
func (s *TaskStore) Delete(tid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tid)
}

// Reconcile deletes every entry whose tid is not present in live, the
// userspace stand-in for the kernel's task-exit notification: a tid that no
// longer shows up in a /proc walk is gone.
func (s *TaskStore) Reconcile(live map[int]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tid := range s.entries {
		if _, ok := live[tid]; !ok {
			delete(s.entries, tid)
		}
	}
}

// Len reports the number of tracked tasks, for tests and diagnostics.
func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IorqEntry is the IorqTracking record for one in-flight block I/O request.
// Request pointers are reused by the kernel, so correctness relies on
// IorqSeqNum and the owning tid matching between the entry and the
// TaskStore snapshot that attributed it.
type IorqEntry struct {
	Sampled       bool
	SeqNum        uint64
	InsertTid     int
	InsertTgid    int
	IssueTid      int
	IssueTgid     int
	InsertKtime   int64
	IssueKtime    int64
	Major, Minor  int
	Sector        uint64
	Bytes         uint64
	Flags         uint32
}

// IorqTracking is keyed by a synthetic "request pointer": since userspace
// has no real kernel request pointers, the key is instead
// (major:minor, sector, insert-generation) composed by the caller into a
// uint64 — see pkg/kernel/probes for the composition.
type IorqTracking struct {
	mu      sync.Mutex
	entries map[uint64]*IorqEntry
}

// NewIorqTracking returns an empty IorqTracking map.
func NewIorqTracking() *IorqTracking {
	return &IorqTracking{entries: make(map[uint64]*IorqEntry)}
}

// Create inserts a fresh entry for key, overwriting anything present (the
// kernel recycling a request pointer is expected and not an error).
func (t *IorqTracking) Create(key uint64, e *IorqEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = e
}

// Get returns the entry for key, if any.
func (t *IorqTracking) Get(key uint64) (*IorqEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return e, ok
}

// Delete removes the entry unconditionally, called after a completion is
// processed regardless of whether it was emitted.
func (t *IorqTracking) Delete(key uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Len reports the number of in-flight requests tracked.
func (t *IorqTracking) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// EmittedStacks is the set of stack hashes already reserved as StackTrace
// records, preventing re-emission of identical stacks across ticks.
type EmittedStacks struct {
	mu   sync.Mutex
	seen map[uint64]struct{}
}

// NewEmittedStacks returns an empty set.
func NewEmittedStacks() *EmittedStacks {
	return &EmittedStacks{seen: make(map[uint64]struct{})}
}

// CheckAndMark returns true if hash was not previously seen, marking it seen
// as a side effect. Callers must only call this once they are committed to
// emitting the corresponding StackTrace record — a failed ring reservation
// must not mark the hash (see pkg/kernel/sampler).
func (s *EmittedStacks) CheckAndMark(hash uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[hash]; ok {
		return false
	}
	s.seen[hash] = struct{}{}
	return true
}

// Unmark reverses a CheckAndMark that turned out not to lead to an emitted
// StackTrace record (e.g. the ring reservation failed), so the next
// observation of hash is treated as new again instead of being suppressed
// forever.
func (s *EmittedStacks) Unmark(hash uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, hash)
}

// Len reports the number of distinct stacks ever seen.
func (s *EmittedStacks) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
