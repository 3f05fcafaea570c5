//go:build linux

package driver

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tanelpoder/xcapture-go/pkg/consumer"
	"github.com/tanelpoder/xcapture-go/pkg/consumer/columns"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/sampler"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/store"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

func TestRunStopsAtIterationCount(t *testing.T) {
	tasks := store.New()
	iorqs := store.NewIorqTracking()
	stacks := store.NewEmittedStacks()
	sampleRB := ringbuf.New[xcapture.TaskSample](64)
	stackRB := ringbuf.New[xcapture.StackTrace](64)
	scRB := ringbuf.New[xcapture.SyscallCompletion](64)
	ioRB := ringbuf.New[xcapture.IorqCompletion](64)

	smp := sampler.New(sampler.Config{ShowAll: true, OwnPid: os.Getpid()}, tasks, iorqs, stacks, sampleRB, stackRB, nil)

	cons, err := consumer.New(consumer.Config{ColumnNames: columns.Narrow}, nil)
	require.NoError(t, err)

	d := New(Config{Interval: time.Millisecond, Iterations: 3}, nil, smp, nil, sampleRB, stackRB, scRB, ioRB, cons)

	err = d.Run(context.Background())
	require.NoError(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	tasks := store.New()
	iorqs := store.NewIorqTracking()
	stacks := store.NewEmittedStacks()
	sampleRB := ringbuf.New[xcapture.TaskSample](64)
	stackRB := ringbuf.New[xcapture.StackTrace](64)
	scRB := ringbuf.New[xcapture.SyscallCompletion](64)
	ioRB := ringbuf.New[xcapture.IorqCompletion](64)

	smp := sampler.New(sampler.Config{ShowAll: true, OwnPid: os.Getpid()}, tasks, iorqs, stacks, sampleRB, stackRB, nil)
	cons, err := consumer.New(consumer.Config{ColumnNames: columns.Narrow}, nil)
	require.NoError(t, err)

	d := New(Config{Interval: 50 * time.Millisecond, Iterations: 0}, nil, smp, nil, sampleRB, stackRB, scRB, ioRB, cons)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(ctx))
}
