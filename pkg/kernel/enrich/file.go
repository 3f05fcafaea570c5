//go:build linux

package enrich

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tanelpoder/xcapture-go/internal/procfs"
)

// File resolves fd[0] of a fd-first-arg syscall: a regular file yields its
// basename in Result.Filename; a socket inode is handed off to Socket.
func File(tid int, fd int64) Result {
	target, err := procfs.ResolveFD(tid, int(fd))
	if err != nil {
		return Result{}
	}
	if inode, ok := socketInode(target); ok {
		return Socket(inode)
	}
	return Result{Filename: filepath.Base(target)}
}

func socketInode(target string) (uint64, bool) {
	if !strings.HasPrefix(target, "socket:[") {
		return 0, false
	}
	s := strings.TrimSuffix(strings.TrimPrefix(target, "socket:["), "]")
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// PPollSelect resolves the first descriptor a ppoll/pselect6 call is
// waiting on, recovered from the syscall's first argument (the fd array/
// fd_set pointer) by reading one fd_set word's lowest set bit via
// process_vm_readv, falling back to "no enrichment" if the read fails.
func PPollSelect(tid int, firstArgPtr uint64) Result {
	word, err := ReadRemoteUint64(tid, firstArgPtr)
	if err != nil || word == 0 {
		return Result{}
	}
	fd := trailingZeros64(word)
	return File(tid, int64(fd))
}

func trailingZeros64(v uint64) int {
	if v == 0 {
		return 64
	}
	n := 0
	for v&1 == 0 {
		v >>= 1
		n++
	}
	return n
}
