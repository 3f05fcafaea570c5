//go:build linux && amd64

package enrich

// Syscall numbers per arch/x86/entry/syscalls/syscall_64.tbl. Only the
// numbers the enrichment dispatch actually branches on are listed; anything
// else falls through to "no special enrichment".
const (
	nrRead     = 0
	nrWrite    = 1
	nrPoll     = 7
	nrPread64  = 17
	nrPwrite64 = 18
	nrReadv    = 19
	nrWritev   = 20

	nrIoSetup     = 206
	nrIoDestroy   = 207
	nrIoGetevents = 208
	nrIoSubmit    = 209
	nrIoCancel    = 210

	nrPselect6 = 270
	nrPpoll    = 271

	nrIoUringSetup    = 425
	nrIoUringEnter    = 426
	nrIoUringRegister = 427
	nrIoPgetevents    = 333
)

// fdFirstArgSyscalls lists every syscall number whose first argument is an
// fd index directly usable for files->fdt->fd[] lookup.
var fdFirstArgSyscalls = map[int64]bool{
	nrRead:     true,
	nrWrite:    true,
	nrPoll:     true,
	nrPread64:  true,
	nrPwrite64: true,
	nrReadv:    true,
	nrWritev:   true,
}
