package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingEmitDrain(t *testing.T) {
	r := New[int](2)
	require.True(t, r.TryEmit(1))
	require.True(t, r.TryEmit(2))
	require.False(t, r.TryEmit(3)) // full
	require.Equal(t, uint64(1), r.Dropped())

	got := r.Drain()
	require.Equal(t, []int{1, 2}, got)
	require.Equal(t, 0, r.Len())
}

func TestRingReusableAfterDrain(t *testing.T) {
	r := New[string](1)
	require.True(t, r.TryEmit("a"))
	require.False(t, r.TryEmit("b"))
	_ = r.Drain()
	require.True(t, r.TryEmit("c"))
	require.Equal(t, []string{"c"}, r.Drain())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := New[int](0)
	require.Equal(t, 1, r.Cap())
}
