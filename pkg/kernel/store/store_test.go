package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskStoreGetOrCreate(t *testing.T) {
	ts := New()
	e := ts.GetOrCreate(42)
	require.Equal(t, int64(-1), e.InSyscallNr)

	e.InSyscallNr = 0
	e2 := ts.GetOrCreate(42)
	require.Same(t, e, e2)
	require.Equal(t, int64(0), e2.InSyscallNr)
}

func TestTaskStoreReconcile(t *testing.T) {
	ts := New()
	ts.GetOrCreate(1)
	ts.GetOrCreate(2)
	ts.GetOrCreate(3)
	require.Equal(t, 3, ts.Len())

	ts.Reconcile(map[int]struct{}{1: {}, 3: {}})
	require.Equal(t, 2, ts.Len())

	_, ok := ts.Get(2)
	require.False(t, ok)
}

func TestIorqTrackingLifecycle(t *testing.T) {
	it := NewIorqTracking()
	key := uint64(0x0800_0001_00001234)
	it.Create(key, &IorqEntry{SeqNum: 5, InsertTid: 100})

	e, ok := it.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(5), e.SeqNum)

	it.Delete(key)
	_, ok = it.Get(key)
	require.False(t, ok)
}

func TestIorqTrackingReuseDifferentSequence(t *testing.T) {
	it := NewIorqTracking()
	key := uint64(1)
	it.Create(key, &IorqEntry{SeqNum: 5, InsertTid: 100})
	// kernel recycles the pointer for a different request
	it.Create(key, &IorqEntry{SeqNum: 11, InsertTid: 200})

	e, ok := it.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(11), e.SeqNum)
	require.Equal(t, 200, e.InsertTid)
}

func TestEmittedStacksCheckAndMark(t *testing.T) {
	es := NewEmittedStacks()
	require.True(t, es.CheckAndMark(0xdead))
	require.False(t, es.CheckAndMark(0xdead))
	require.True(t, es.CheckAndMark(0xbeef))
	require.Equal(t, 2, es.Len())
}

func TestEmittedStacksUnmarkAllowsRetry(t *testing.T) {
	es := NewEmittedStacks()
	require.True(t, es.CheckAndMark(0xdead))
	es.Unmark(0xdead)
	require.Equal(t, 0, es.Len())
	require.True(t, es.CheckAndMark(0xdead), "unmarked hash must be treated as new again")
}
