//go:build linux

package enrich

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
)

const maxStackFrames = 20 // verifier-style bound carried over verbatim

// WalkUserStack follows the frame-pointer chain (RBP/RIP pairs on amd64,
// x29/x30 pairs on arm64 — both "previous fp" then "return address" in that
// word order) starting at the task's current frame pointer and stack
// pointer, bounded to maxStackFrames and gated by the same sanity check the
// original uses: fp must sit above sp and within 1 MiB of it, otherwise the
// chain is considered corrupt and walking stops.
func WalkUserStack(tid int, fp, sp uint64) []uint64 {
	const maxSpan = 1 << 20
	addrs := make([]uint64, 0, maxStackFrames)
	cur := fp
	for i := 0; i < maxStackFrames; i++ {
		if cur == 0 || cur < sp || cur-sp > maxSpan {
			break
		}
		retAddr, err := ReadRemoteUint64(tid, cur+8)
		if err != nil || retAddr == 0 {
			break
		}
		addrs = append(addrs, retAddr)

		nextFP, err := ReadRemoteUint64(tid, cur)
		if err != nil {
			break
		}
		cur = nextFP
	}
	return addrs
}

// ReadKernelStack reads the symbolic kernel stack trace the kernel already
// exposes unprivileged-adjacent at /proc/<tid>/stack (one "[<0>] symbol"
// line per frame when /proc/sys/kernel/kptr_restrict permits it). This is
// the userspace equivalent of the in-kernel stack-trace helper: the kernel
// has already done the unwinding, so there is no frame-pointer walk here.
func ReadKernelStack(tid int) []uint64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(tid) + "/stack")
	if err != nil {
		return nil
	}
	var addrs []uint64
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// kptr_restrict commonly masks the address, leaving only the
		// symbol name; hash the symbol's name bytes as a stand-in so the
		// stack is still distinguishable even when addresses are hidden.
		h := fnv.New64a()
		_, _ = h.Write([]byte(line))
		addrs = append(addrs, h.Sum64())
	}
	return addrs
}

// HashStack computes the FNV-1a-64 hash of a frame address sequence so
// that two identical call chains always collapse to one StackTrace record.
func HashStack(addrs []uint64) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, a := range addrs {
		buf[0] = byte(a)
		buf[1] = byte(a >> 8)
		buf[2] = byte(a >> 16)
		buf[3] = byte(a >> 24)
		buf[4] = byte(a >> 32)
		buf[5] = byte(a >> 40)
		buf[6] = byte(a >> 48)
		buf[7] = byte(a >> 56)
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}
