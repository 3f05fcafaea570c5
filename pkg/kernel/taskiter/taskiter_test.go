//go:build linux

package taskiter

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tanelpoder/xcapture-go/internal/procfs"
)

func TestWalkExcludesSelf(t *testing.T) {
	tasks, err := Walk(Filter{OwnPid: os.Getpid()})
	require.NoError(t, err)
	for _, tk := range tasks {
		require.NotEqual(t, os.Getpid(), tk.Tid)
	}
}

func TestWalkTGIDFilter(t *testing.T) {
	tasks, err := Walk(Filter{TGIDFilter: os.Getpid()})
	require.NoError(t, err)
	for _, tk := range tasks {
		require.Equal(t, os.Getpid(), tk.Tgid)
	}
}

func TestWalkTidFilter(t *testing.T) {
	tasks, err := Walk(Filter{TidFilter: os.Getpid()})
	require.NoError(t, err)
	for _, tk := range tasks {
		require.Equal(t, os.Getpid(), tk.Tid)
	}
}

func TestExeBasenameSelf(t *testing.T) {
	name := ExeBasename(os.Getpid())
	require.NotEmpty(t, name)
}

func TestDecodeSchedSubstate(t *testing.T) {
	st := procfs.Stat{State: 'R', Processor: 2}
	sub := DecodeSchedSubstate(st, map[int]bool{2: true})
	require.True(t, sub.OnCPU)
	require.False(t, sub.OnRunqueue)

	sub2 := DecodeSchedSubstate(st, map[int]bool{2: false})
	require.False(t, sub2.OnCPU)
	require.True(t, sub2.OnRunqueue)
}
