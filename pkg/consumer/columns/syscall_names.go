package columns

import "strconv"

// syscallNamesAmd64 covers the syscalls the enrichment dispatch and the
// testable scenarios in practice touch; anything else renders as "sys_<nr>"
// rather than failing the whole row.
var syscallNamesAmd64 = map[int64]string{
	0: "read", 1: "write", 2: "open", 3: "close", 7: "poll",
	17: "pread64", 18: "pwrite64", 19: "readv", 20: "writev",
	23: "select", 42: "connect", 43: "accept",
	206: "io_setup", 207: "io_destroy", 208: "io_getevents", 209: "io_submit", 210: "io_cancel",
	232: "epoll_wait", 270: "pselect6", 271: "ppoll", 281: "epoll_pwait",
	333: "io_pgetevents", 425: "io_uring_setup", 426: "io_uring_enter", 427: "io_uring_register",
}

func syscallName(nr int64) string {
	if nr < 0 {
		return "-"
	}
	if n, ok := syscallNamesAmd64[nr]; ok {
		return n
	}
	return "sys_" + strconv.FormatInt(nr, 10)
}
