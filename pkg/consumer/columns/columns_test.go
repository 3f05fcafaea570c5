package columns

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

func TestSetLookup(t *testing.T) {
	set, ok := Set("narrow")
	require.True(t, ok)
	require.Contains(t, set, "tid")

	_, ok = Set("bogus")
	require.False(t, ok)
}

func TestResolveUnknownColumnIsError(t *testing.T) {
	_, err := Resolve([]string{"tid", "not_a_column"})
	require.Error(t, err)
}

func TestResolveKnownColumns(t *testing.T) {
	cols, err := Resolve(Narrow)
	require.NoError(t, err)
	require.Len(t, cols, len(Narrow))
}

func TestFormatSample(t *testing.T) {
	s := xcapture.TaskSample{Tid: 42, SyscallNr: 0, Comm: "bash"}
	col, ok := Lookup("syscall")
	require.True(t, ok)
	require.Equal(t, "read", col.Format(s))

	col, ok = Lookup("filename")
	require.True(t, ok)
	require.Equal(t, "-", col.Format(s))
}

func TestCSVColumnsAllResolve(t *testing.T) {
	_, err := Resolve(CSVColumns)
	require.NoError(t, err)
}
