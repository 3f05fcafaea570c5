//go:build linux

package enrich

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// io_uring's SQ/CQ ring header layout is a stable kernel ABI (struct
// io_sqring_offsets / io_cqring_offsets): each ring's control block is a
// fixed-offset header mmap'd at IORING_OFF_SQ_RING / IORING_OFF_CQ_RING,
// with head/tail as the first two u32 words followed by the ring mask and
// entry count. ehrlich-b-go-iouring's ring.go computes "ready" entries the
// same way for a ring this process owns; here the ring belongs to another
// process, so the header is read remotely instead of through a local mmap.
const (
	ringOffHead    = 0
	ringOffTail    = 4
	ringOffMask    = 8
	ringOffEntries = 12
)

// ringHeader is (head, tail, mask).
type ringHeader struct {
	head, tail, mask uint32
}

func readRingHeader(tid int, base uint64) (ringHeader, error) {
	head, err := ReadRemoteUint32(tid, base+ringOffHead)
	if err != nil {
		return ringHeader{}, err
	}
	tail, err := ReadRemoteUint32(tid, base+ringOffTail)
	if err != nil {
		return ringHeader{}, err
	}
	mask, err := ReadRemoteUint32(tid, base+ringOffMask)
	if err != nil {
		return ringHeader{}, err
	}
	return ringHeader{head: head, tail: tail, mask: mask}, nil
}

func (r ringHeader) pending() uint32 { return r.tail - r.head }

// ringBases locates the SQ ring, CQ ring, and SQE array mmap base addresses
// for fd in tid's address space by scanning /proc/<tid>/maps for the
// anonymous mappings the kernel labels "[io_uring]" (recent kernels
// annotate io_uring mmaps this way; on older kernels the mapping is unnamed
// and this lookup fails, which degrades gracefully to "no enrichment" like
// any other unreadable memory). io_uring_setup mmaps the SQ/CQ ring header
// before the separate SQE array, so the first labeled mapping is the ring
// header and the second, if present, is the SQE array.
func ringBases(tid int) (sq, cq, sqes uint64, err error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", tid))
	if err != nil {
		return 0, 0, 0, err
	}
	lines := strings.Split(string(b), "\n")
	var bases []uint64
	for _, line := range lines {
		if !strings.Contains(line, "io_uring") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, e := strconv.ParseUint(addrRange[0], 16, 64)
		if e != nil {
			continue
		}
		bases = append(bases, start)
	}
	if len(bases) == 0 {
		return 0, 0, 0, ErrNotFound
	}
	// The SQ ring mmap precedes the CQ ring mmap in io_uring_setup when
	// IORING_FEAT_SINGLE_MMAP is not negotiated; with it (the modern,
	// default case) SQ and CQ share one mapping and sq==cq.
	sq = bases[0]
	cq = bases[0]
	if len(bases) > 1 {
		sqes = bases[1]
	}
	return sq, cq, sqes, nil
}

// sqe field offsets within the fixed 64-byte struct io_uring_sqe header
// (linux/io_uring.h): opcode u8@0, flags u8@1, fd s32@4, off/addr2 u64@8,
// len u32@24, rw_flags u32@28.
const (
	sqeOffOpcode  = 0
	sqeOffFlags   = 1
	sqeOffFD      = 4
	sqeOffOff     = 8
	sqeOffLen     = 24
	sqeOffRWFlags = 28
	sqeSize       = 64

	ioSQEFixedFile = 1 << 0 // IOSQE_FIXED_FILE
)

var sqeOpcodeNames = map[uint8]string{
	0: "NOP", 1: "READV", 2: "WRITEV", 3: "FSYNC", 4: "READ_FIXED", 5: "WRITE_FIXED",
	18: "SPLICE", 22: "READ", 23: "WRITE", 28: "RECV", 29: "SEND",
}

func sqeOpcodeName(op uint8) string {
	if n, ok := sqeOpcodeNames[op]; ok {
		return n
	}
	return "op_" + strconv.Itoa(int(op))
}

// decodeSQE reads the most recently submitted entry (sq.tail-1, mod mask)
// out of the SQE array and resolves its target file, honoring
// IOSQE_FIXED_FILE (a registered-files-table index rather than a process
// fd) by reporting "fixed:<idx>" since that table itself isn't visible to a
// remote tracer. This assumes the SQE array index equals the SQ ring slot
// index — true both on kernels built with IORING_SETUP_NO_SQARRAY and for
// the common liburing-style caller that never reorders the array
// indirection table away from identity.
func decodeSQE(tid int, sqesBase uint64, sq ringHeader, res *Result) {
	if sqesBase == 0 || sq.pending() == 0 {
		return
	}
	idx := (sq.tail - 1) & sq.mask
	base := sqesBase + uint64(idx)*sqeSize

	opcode, err := ReadRemoteUint8(tid, base+sqeOffOpcode)
	if err != nil {
		return
	}
	flags, err := ReadRemoteUint8(tid, base+sqeOffFlags)
	if err != nil {
		return
	}
	fdRaw, err := ReadRemoteUint32(tid, base+sqeOffFD)
	if err != nil {
		return
	}
	off, _ := ReadRemoteUint64(tid, base+sqeOffOff)
	length, _ := ReadRemoteUint32(tid, base+sqeOffLen)
	rwFlags, _ := ReadRemoteUint32(tid, base+sqeOffRWFlags)

	res.Extra.Set("uring_opcode", sqeOpcodeName(opcode))
	res.Extra.Set("uring_flags", strconv.FormatUint(uint64(flags), 16))
	res.Extra.Set("uring_offset", strconv.FormatUint(off, 10))
	res.Extra.Set("uring_len", strconv.FormatUint(uint64(length), 10))
	res.Extra.Set("uring_rw_flags", strconv.FormatUint(uint64(rwFlags), 16))

	fd := int32(fdRaw)
	if flags&ioSQEFixedFile != 0 {
		res.Extra.Set("uring_filename", "fixed:"+strconv.Itoa(int(fd)))
		return
	}
	if fileRes := File(tid, int64(fd)); fileRes.Filename != "" {
		res.Filename = fileRes.Filename
		res.Extra.Set("uring_filename", fileRes.Filename)
	}
}

// IOUring decodes the SQ/CQ backlog for a task blocked in io_uring_enter and
// the most recently submitted SQE's target file/opcode/flags/offset/length,
// bounded to the single most recent SQE so a pathological ring depth can't
// make one enrichment call unbounded.
func IOUring(tid int, ringFD int64) Result {
	sqBase, cqBase, sqesBase, err := ringBases(tid)
	if err != nil {
		return Result{}
	}
	sq, err := readRingHeader(tid, sqBase)
	if err != nil {
		return Result{}
	}
	cq, err := readRingHeader(tid, cqBase)
	if err != nil {
		return Result{}
	}

	res := Result{}
	res.Extra.Set("uring_sq", strconv.Itoa(int(sq.pending())))
	res.Extra.Set("uring_cq", strconv.Itoa(int(cq.pending())))

	if sq.pending() > 0 {
		lastIdx := (sq.tail - 1) & sq.mask
		res.Extra.Set("uring_sqe_idx", strconv.Itoa(int(lastIdx)))
		decodeSQE(tid, sqesBase, sq, &res)
	}
	return res
}

// ErrNotFound is returned when a ring-header lookup can't locate the mmap
// backing an io_uring fd in the target's address space.
var ErrNotFound = fmt.Errorf("enrich: mapping not found")
