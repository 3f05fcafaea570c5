package consumer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanelpoder/xcapture-go/pkg/consumer/columns"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

func TestNewRejectsUnknownColumn(t *testing.T) {
	_, err := New(Config{ColumnNames: []string{"not_a_real_column"}}, nil)
	require.Error(t, err)
}

func TestSamplesWritesCSVRow(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{OutputDir: dir, ColumnNames: columns.Narrow}, nil)
	require.NoError(t, err)

	s := xcapture.TaskSample{
		Tid: 123, Tgid: 123, Comm: "bash", SyscallNr: -1,
		SampleWallclock: time.Now(),
	}
	c.Samples([]xcapture.TaskSample{s})
	require.NoError(t, c.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "xcapture_samples_*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestStackTracesTrackedPerTick(t *testing.T) {
	c, err := New(Config{ColumnNames: columns.Narrow}, nil)
	require.NoError(t, err)

	c.ResetTick()
	c.StackTraces([]xcapture.StackTrace{
		{Hash: 0xdead, Kind: xcapture.StackKernel, Tid: 1, Addrs: []uint64{1, 2, 3}},
	})
	require.Len(t, c.tickStacks, 1)

	c.ResetTick()
	require.Len(t, c.tickStacks, 0)
}

func TestSymbolizeWithoutSymbolizerFallsBackToHex(t *testing.T) {
	out := symbolize(nil, xcapture.StackTrace{Addrs: []uint64{0x1000, 0x2000}})
	require.Equal(t, "0x1000;0x2000", out)
}

type fakeSymbolizer struct{}

func (fakeSymbolizer) Symbolize(addrs []uint64, kind xcapture.StackKind) []string {
	out := make([]string, len(addrs))
	for i := range addrs {
		out[i] = "fn"
	}
	return out
}

func TestSymbolizeWithSymbolizer(t *testing.T) {
	out := symbolize(fakeSymbolizer{}, xcapture.StackTrace{Addrs: []uint64{0x1, 0x2}})
	require.Equal(t, "fn;fn", out)
}

func TestUsernameCacheLookupUnknownUIDFallsBackToNumeric(t *testing.T) {
	c := newUsernameCache()
	require.Equal(t, "999999", c.Lookup(999999))
}

func TestCgroupPathCacheResolveFirstSightingWins(t *testing.T) {
	c := newCgroupPathCache()
	require.Equal(t, "/a", c.Resolve(1, "/a"))
	require.Equal(t, "/a", c.Resolve(1, "/b"))
}
