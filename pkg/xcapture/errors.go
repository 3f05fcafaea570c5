package xcapture

import "errors"

var (
	// ErrNoInterest means a task failed every interest filter and the
	// sampler should skip it without enrichment or emission.
	ErrNoInterest = errors.New("xcapture: task not of interest")

	// ErrRingFull means a ring buffer reservation failed; the caller drops
	// the event and continues rather than blocking the sampler.
	ErrRingFull = errors.New("xcapture: ring buffer full")

	// ErrUnsupportedArch means stack walking or syscall argument decoding
	// was attempted on a GOARCH this build doesn't carry tables for.
	ErrUnsupportedArch = errors.New("xcapture: unsupported architecture")

	// ErrNoEnrichment means fd[0] enrichment could not classify the
	// resource a task is blocked on (fd closed mid-read, exotic fd type).
	ErrNoEnrichment = errors.New("xcapture: no enrichment available")

	// ErrProbeDetached means a SyscallProbe's ptrace attachment died and
	// the probe needs to be re-armed for that tid.
	ErrProbeDetached = errors.New("xcapture: probe detached")
)
