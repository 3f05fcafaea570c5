package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	tasks := New()
	e := tasks.GetOrCreate(42)
	e.Tgid = 42
	e.ScSequenceNum = 7

	iorqs := NewIorqTracking()
	iorqs.Create(99, &IorqEntry{SeqNum: 3, Sector: 100})

	stacks := NewEmittedStacks()
	stacks.CheckAndMark(0xabc)

	require.NoError(t, Save(dir, tasks, iorqs, stacks))

	loadedTasks, loadedIorqs, loadedStacks, err := Load(dir)
	require.NoError(t, err)

	restored, ok := loadedTasks.Get(42)
	require.True(t, ok)
	require.Equal(t, uint64(7), restored.ScSequenceNum)

	rq, ok := loadedIorqs.Get(99)
	require.True(t, ok)
	require.Equal(t, uint64(100), rq.Sector)

	require.False(t, loadedStacks.CheckAndMark(0xabc))
}

func TestLoadMissingSnapshotIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	tasks, iorqs, stacks, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 0, tasks.Len())
	require.Equal(t, 0, iorqs.Len())
	require.Equal(t, 0, stacks.Len())
}
