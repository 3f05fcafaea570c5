//go:build linux && arm64

package enrich

// Syscall numbers per the generic asm-generic/unistd.h table arm64 uses.
const (
	nrIoSetup     = 0
	nrIoDestroy   = 1
	nrIoSubmit    = 2
	nrIoCancel    = 3
	nrIoGetevents = 4

	nrPselect6 = 72
	nrPpoll    = 73

	nrRead     = 63
	nrWrite    = 64
	nrReadv    = 65
	nrWritev   = 66
	nrPread64  = 67
	nrPwrite64 = 68
	nrPoll     = 0 // poll(2) is not present on the generic table; ppoll covers it

	nrIoUringSetup    = 425
	nrIoUringEnter    = 426
	nrIoUringRegister = 427
	nrIoPgetevents    = 292
)

var fdFirstArgSyscalls = map[int64]bool{
	nrRead:     true,
	nrWrite:    true,
	nrPread64:  true,
	nrPwrite64: true,
	nrReadv:    true,
	nrWritev:   true,
}
