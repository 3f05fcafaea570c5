//go:build linux

// Package driver runs the fixed-rate tick loop that ties the Sampler, the
// active probes, and the Consumer together: capture the tick's clock
// reading, trigger one Sample, drain every ring buffer in a fixed order,
// and sleep off whatever's left of the tick interval.
package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/tanelpoder/xcapture-go/pkg/consumer"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/probes"
	"github.com/tanelpoder/xcapture-go/pkg/kernel/sampler"
	"github.com/tanelpoder/xcapture-go/pkg/ringbuf"
	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// Config carries the loop's rate and lifetime tunables.
type Config struct {
	Interval   time.Duration // e.g. time.Second/Hz
	Iterations int           // 0 means run until ctx is canceled
}

// Driver owns every ring buffer and runs the tick loop.
type Driver struct {
	cfg Config
	log *slog.Logger

	sampler   *sampler.Sampler
	iorqProbe *probes.IorqProbe // nil when block I/O tracking isn't wired

	sampleRB *ringbuf.Ring[xcapture.TaskSample]
	stackRB  *ringbuf.Ring[xcapture.StackTrace]
	scCompRB *ringbuf.Ring[xcapture.SyscallCompletion]
	ioCompRB *ringbuf.Ring[xcapture.IorqCompletion]

	consumer *consumer.Consumer
}

// New wires a Driver. The ring buffers passed in must be the same instances
// given to the Sampler and the probes at their construction, so draining
// here observes everything produced during the tick just run.
func New(cfg Config, log *slog.Logger, smp *sampler.Sampler, iorqProbe *probes.IorqProbe,
	sampleRB *ringbuf.Ring[xcapture.TaskSample], stackRB *ringbuf.Ring[xcapture.StackTrace],
	scCompRB *ringbuf.Ring[xcapture.SyscallCompletion], ioCompRB *ringbuf.Ring[xcapture.IorqCompletion],
	cons *consumer.Consumer) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		cfg: cfg, log: log, sampler: smp, iorqProbe: iorqProbe,
		sampleRB: sampleRB, stackRB: stackRB, scCompRB: scCompRB, ioCompRB: ioCompRB,
		consumer: cons,
	}
}

// Run executes tick iterations until ctx is canceled or cfg.Iterations is
// reached (0 meaning unbounded). A tick that overruns its interval logs a
// warning and proceeds immediately to the next iteration rather than
// sleeping a negative duration.
func (d *Driver) Run(ctx context.Context) error {
	if d.iorqProbe != nil && d.iorqProbe.UsesDebugfs() {
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		go func() {
			if err := d.iorqProbe.TailDebugfs(stop); err != nil {
				d.log.Warn("iorq debugfs tail stopped", "error", err)
			}
		}()
	}

	for i := 0; d.cfg.Iterations == 0 || i < d.cfg.Iterations; i++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		start := time.Now()
		tick := d.captureTick()

		d.consumer.ResetTick()

		if _, err := d.sampler.Sample(tick); err != nil {
			d.log.Warn("sample tick failed", "error", err)
		}
		if d.iorqProbe != nil && !d.iorqProbe.UsesDebugfs() {
			if err := d.iorqProbe.PollDiskstats(); err != nil {
				d.log.Warn("diskstats poll failed", "error", err)
			}
		}

		d.drain()
		d.consumer.PrintTickStacks()

		elapsed := time.Since(start)
		remaining := d.cfg.Interval - elapsed
		if remaining <= 0 {
			d.log.Warn("tick overrun", "elapsed", elapsed, "interval", d.cfg.Interval)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(remaining):
		}
	}
	return nil
}

// drain empties every ring buffer in a fixed order — samples, stacks, then
// syscall and iorq completions — so stdout/CSV output for one tick always
// groups that tick's samples ahead of its completions.
func (d *Driver) drain() {
	if samples := d.sampleRB.Drain(); len(samples) > 0 {
		d.consumer.Samples(samples)
	}
	if stacks := d.stackRB.Drain(); len(stacks) > 0 {
		d.consumer.StackTraces(stacks)
	}
	if sc := d.scCompRB.Drain(); len(sc) > 0 {
		d.consumer.SyscallCompletions(sc)
	}
	if io := d.ioCompRB.Drain(); len(io) > 0 {
		d.consumer.IorqCompletions(io)
	}
}

// captureTick reads the clock pair this tick's samples convert ktime deltas
// against. The Sampler and the probes all stamp their own "ktime" fields
// with time.Now().UnixNano() rather than CLOCK_MONOTONIC, so StartKtime must
// share that same epoch — mixing a monotonic-clock epoch into a delta
// against wallclock-epoch stamps would produce nonsense offsets.
func (d *Driver) captureTick() sampler.Tick {
	now := time.Now()
	return sampler.Tick{StartKtime: now.UnixNano(), StartWallclock: now}
}
