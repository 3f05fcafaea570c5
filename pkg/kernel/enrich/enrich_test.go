//go:build linux

package enrich

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Equal(t, KindFDFirstArg, Classify(nrRead))
	require.Equal(t, KindFDFirstArg, Classify(nrWrite))
	require.Equal(t, KindPollSelect, Classify(nrPpoll))
	require.Equal(t, KindPollSelect, Classify(nrPselect6))
	require.Equal(t, KindIOUring, Classify(nrIoUringEnter))
	require.Equal(t, KindLibaioSubmitGet, Classify(nrIoSubmit))
	require.Equal(t, KindNone, Classify(999999))
}

func TestSplitHexAddr(t *testing.T) {
	addr, port := splitHexAddr("0100007F:1F90")
	require.Equal(t, "127.0.0.1", addr)
	require.EqualValues(t, 8080, port)
}

func TestIsDaemonPort(t *testing.T) {
	require.True(t, IsDaemonPort("LISTEN", 0, 10000))
	require.True(t, IsDaemonPort("ESTABLISHED", 22, 10000))
	require.False(t, IsDaemonPort("ESTABLISHED", 54321, 10000))
}

func TestHashStackStable(t *testing.T) {
	a := HashStack([]uint64{1, 2, 3})
	b := HashStack([]uint64{1, 2, 3})
	c := HashStack([]uint64{1, 2, 4})
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestTrailingZeros64(t *testing.T) {
	require.Equal(t, 0, trailingZeros64(1))
	require.Equal(t, 3, trailingZeros64(8))
	require.Equal(t, 64, trailingZeros64(0))
}
