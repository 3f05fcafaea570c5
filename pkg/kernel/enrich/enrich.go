//go:build linux

// Package enrich implements the fd[0]-dispatch enrichment the Sampler runs
// for every interesting task: resolving the file a blocked syscall is
// waiting on, and — for sockets, io_uring rings, and libaio contexts —
// decoding the richer structures the kernel would otherwise only expose to
// a BPF program walking raw pointers.
package enrich

import "github.com/tanelpoder/xcapture-go/pkg/xcapture"

// Kind tags which enrichment arm a syscall number dispatches to.
type Kind int

const (
	KindNone Kind = iota
	KindFDFirstArg
	KindPollSelect
	KindIOUring
	KindLibaioSubmitGet
)

// Classify returns which enrichment arm applies to a syscall number, the Go
// equivalent of the architecture's static "fd-is-first-arg" bitmap plus the
// io_uring/libaio special cases.
func Classify(nr int64) Kind {
	switch {
	case fdFirstArgSyscalls[nr]:
		return KindFDFirstArg
	case nr == nrPpoll || nr == nrPselect6:
		return KindPollSelect
	case nr == nrIoUringEnter:
		return KindIOUring
	case nr == nrIoSubmit || nr == nrIoGetevents || nr == nrIoPgetevents:
		return KindLibaioSubmitGet
	default:
		return KindNone
	}
}

// Result is everything the Sampler copies onto a TaskSample after
// enrichment; zero value means "nothing resolved", which the Sampler treats
// as the documented degrade-to-empty behavior rather than an error.
type Result struct {
	Filename   string
	Connection xcapture.Connection4
	ConnState  string
	TCP        *xcapture.TCPInfo
	Extra      xcapture.ExtraInfo
}
