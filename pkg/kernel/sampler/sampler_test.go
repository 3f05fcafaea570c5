//go:build linux

package sampler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

func newTestSampler(cfg Config) (*Sampler, *ringbuf.Ring[xcapture.TaskSample]) {
	sampleRB := ringbuf.New[xcapture.TaskSample](4096)
	stackRB := ringbuf.New[xcapture.StackTrace](4096)
	sp := New(cfg, store.New(), store.NewIorqTracking(), store.NewEmittedStacks(), sampleRB, stackRB, nil)
	return sp, sampleRB
}

func TestSampleShowAllProducesSamples(t *testing.T) {
	sp, rb := newTestSampler(Config{ShowAll: true})
	tick := Tick{StartKtime: time.Now().UnixNano(), StartWallclock: time.Now()}

	n, err := sp.Sample(tick)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	got := rb.Drain()
	require.Len(t, got, n)
	for _, s := range got {
		require.Equal(t, tick.StartKtime, s.SampleStartKtime)
	}
}

func TestSampleTGIDFilterRestrictsToGroup(t *testing.T) {
	sp, rb := newTestSampler(Config{ShowAll: true, TGIDFilter: 1})
	tick := Tick{StartKtime: time.Now().UnixNano(), StartWallclock: time.Now()}

	_, err := sp.Sample(tick)
	require.NoError(t, err)
	for _, s := range rb.Drain() {
		require.Equal(t, 1, s.Tgid)
	}
}

func TestHashStringDeterministic(t *testing.T) {
	require.Equal(t, hashString("/a/b"), hashString("/a/b"))
	require.NotEqual(t, hashString("/a/b"), hashString("/a/c"))
}
