//go:build linux

package probes

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

func TestExtractTID(t *testing.T) {
	line := "kworker/u8:3-1234   [002] ...1  100.5: block_rq_insert: 8,0 ..."
	require.Equal(t, 1234, extractTID(line))
}

func TestExtractDevSector(t *testing.T) {
	line := "kworker/u8:3-1234   [002] ...1  100.5: block_rq_insert: 8,0 WS 4096 () 100 + 8 [kworker/u8:3] sector=100"
	major, minor, sector := extractDevSector(line)
	require.Equal(t, 8, major)
	require.Equal(t, 0, minor)
	require.EqualValues(t, 100, sector)
}

func TestIorqProbeInsertIssueComplete(t *testing.T) {
	tasks := store.New()
	iorqs := store.NewIorqTracking()
	compRB := ringbuf.New[xcapture.IorqCompletion](16)
	p := NewIorqProbe(tasks, iorqs, compRB, nil)

	e := tasks.GetOrCreate(1234)
	e.Pid, e.Tgid = 1234, 1234

	insertLine := "proc-1234 [000] ...1 1.0: block_rq_insert: 8,0 sector=500 bytes=4096 rwbs=WS"
	issueLine := "proc-1234 [000] ...1 1.1: block_rq_issue: 8,0 sector=500"
	completeLine := "proc-1234 [000] ...1 1.2: block_rq_complete: 8,0 sector=500 errno=-5"

	p.handleTraceLine(insertLine)
	require.Equal(t, 1, iorqs.Len())

	p.handleTraceLine(issueLine)
	rq, ok := iorqs.Get(e.LastIorqRQ)
	require.True(t, ok)
	require.Equal(t, 1234, rq.IssueTid)
	require.EqualValues(t, 4096, rq.Bytes)
	require.EqualValues(t, rwbsWrite|rwbsSync, rq.Flags)

	rq.Sampled = true // sampler would normally set this on attribution
	p.handleTraceLine(completeLine)

	got := compRB.Drain()
	require.Len(t, got, 1)
	require.Equal(t, 1234, got[0].InsertTid)
	require.EqualValues(t, 4096, got[0].Bytes)
	require.EqualValues(t, rwbsWrite|rwbsSync, got[0].Flags)
	require.EqualValues(t, -5, got[0].Errno)
	require.Equal(t, 0, iorqs.Len())
}

func TestExtractBytesFlags(t *testing.T) {
	line := "block_rq_insert: 8,0 sector=500 bytes=16384 rwbs=RA"
	bytes, flags := extractBytesFlags(line)
	require.EqualValues(t, 16384, bytes)
	require.Equal(t, uint32(rwbsRead|rwbsAhead), flags)
}

func TestExtractErrno(t *testing.T) {
	require.EqualValues(t, -5, extractErrno("block_rq_complete: 8,0 sector=500 errno=-5"))
	require.EqualValues(t, 0, extractErrno("block_rq_complete: 8,0 sector=500"))
}

func TestIorqKeyDiffersByGeneration(t *testing.T) {
	k1 := iorqKey(8, 0, 100, 1)
	k2 := iorqKey(8, 0, 100, 2)
	require.NotEqual(t, k1, k2)
}
