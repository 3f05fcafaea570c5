//go:build linux

package sampler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

func TestReserveStackTraceMarksOnSuccess(t *testing.T) {
	sampleRB := ringbuf.New[xcapture.TaskSample](4)
	stackRB := ringbuf.New[xcapture.StackTrace](4)
	sp := New(Config{}, store.New(), store.NewIorqTracking(), store.NewEmittedStacks(), sampleRB, stackRB, nil)

	sp.reserveStackTrace(0xcafe, xcapture.StackKernel, 1, []uint64{1, 2, 3})

	require.Len(t, stackRB.Drain(), 1)
	require.False(t, sp.stacks.CheckAndMark(0xcafe), "hash must stay marked after a successful emit")
}

func TestReserveStackTraceUnmarksOnFailedEmit(t *testing.T) {
	sampleRB := ringbuf.New[xcapture.TaskSample](4)
	stackRB := ringbuf.New[xcapture.StackTrace](1)
	sp := New(Config{}, store.New(), store.NewIorqTracking(), store.NewEmittedStacks(), sampleRB, stackRB, nil)

	// Fill the ring so the next reservation fails.
	require.True(t, stackRB.TryEmit(xcapture.StackTrace{Hash: 0x1}))

	sp.reserveStackTrace(0xcafe, xcapture.StackKernel, 1, []uint64{1, 2, 3})

	require.Len(t, stackRB.Drain(), 1, "the failed trace must not have been emitted")
	require.True(t, sp.stacks.CheckAndMark(0xcafe), "a failed reservation must not leave the hash marked as seen")
}
