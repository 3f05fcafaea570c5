//go:build linux

package procfs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadStatSelf(t *testing.T) {
	s, err := ReadStat(os.Getpid())
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), s.Pid)
	require.NotEmpty(t, s.Comm)
	require.Contains(t, "RSDZTtWXxKPI", string(s.State))
}

func TestReadStatGone(t *testing.T) {
	_, err := ReadStat(1 << 30)
	require.ErrorIs(t, err, ErrGone)
}

func TestIsIdleWorker(t *testing.T) {
	require.True(t, IsIdleWorker("kswapd0"))
	require.True(t, IsIdleWorker("migration/3"))
	require.True(t, IsIdleWorker("kthreadd"))
	require.False(t, IsIdleWorker("bash"))
}

func TestReadFlagsSelf(t *testing.T) {
	fl, err := ReadFlags(os.Getpid())
	require.NoError(t, err)
	require.False(t, fl.IsKernelThread)
}

func TestReadSyscallRunning(t *testing.T) {
	// Our own thread is virtually always "running" from the reader's point
	// of view since it's the one doing the reading.
	_, err := ReadSyscall(os.Getpid())
	if err != nil {
		require.ErrorIs(t, err, ErrNotInSyscall)
	}
}

func TestCgroupPath(t *testing.T) {
	p, err := CgroupPath(os.Getpid())
	require.NoError(t, err)
	require.NotEmpty(t, p)
}

func TestPIDNamespaceID(t *testing.T) {
	id, err := PIDNamespaceID(os.Getpid())
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestReadSchedstat(t *testing.T) {
	_, err := ReadSchedstat(os.Getpid())
	require.NoError(t, err)
}

func TestRunningProcessor(t *testing.T) {
	m, err := RunningProcessor()
	require.NoError(t, err)
	require.NotEmpty(t, m)
}
