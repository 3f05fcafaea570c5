//go:build linux

package probes

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

func TestHandleStopEntryDoesNotSetScSampled(t *testing.T) {
	tasks := store.New()
	compRB := ringbuf.New[xcapture.SyscallCompletion](16)
	p := NewSyscallProbe(tasks, compRB, nil)

	p.handleStop(1234, true, regView{SyscallNr: 1, RetValue: 0}, 0, 0)

	e, ok := tasks.Get(1234)
	require.True(t, ok)
	require.False(t, e.ScSampled)
	require.Equal(t, int64(1), e.InSyscallNr)
	require.EqualValues(t, 1, e.ScSequenceNum)
}

func TestHandleStopExitSkipsCompletionWhenNotSampled(t *testing.T) {
	tasks := store.New()
	compRB := ringbuf.New[xcapture.SyscallCompletion](16)
	p := NewSyscallProbe(tasks, compRB, nil)

	enterTime, enterNr := p.handleStop(1234, true, regView{SyscallNr: 1}, 0, 0)
	// sc_sampled stays false: the Sampler never observed this task mid-syscall.
	p.handleStop(1234, false, regView{SyscallNr: 1, RetValue: 0}, enterTime, enterNr)

	require.Empty(t, compRB.Drain())
}

func TestHandleStopExitEmitsCompletionWhenSampled(t *testing.T) {
	tasks := store.New()
	compRB := ringbuf.New[xcapture.SyscallCompletion](16)
	p := NewSyscallProbe(tasks, compRB, nil)

	enterTime, enterNr := p.handleStop(1234, true, regView{SyscallNr: 2}, 0, 0)

	e, ok := tasks.Get(1234)
	require.True(t, ok)
	e.ScSampled = true // the Sampler would set this on mid-syscall attribution

	p.handleStop(1234, false, regView{SyscallNr: 2, RetValue: 42}, enterTime, enterNr)

	got := compRB.Drain()
	require.Len(t, got, 1)
	require.Equal(t, 1234, got[0].Tid)
	require.EqualValues(t, 2, got[0].SyscallNr)
	require.EqualValues(t, 42, got[0].ReturnValue)

	e, ok = tasks.Get(1234)
	require.True(t, ok)
	require.False(t, e.ScSampled, "exit must clear sc_sampled regardless of emission")
}
