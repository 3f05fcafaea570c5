//go:build linux

package enrich

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// ReadRemoteBytes copies n bytes out of tid's address space starting at
// addr using process_vm_readv, the unprivileged (same-uid or CAP_SYS_PTRACE)
// syscall for cross-process memory access — the same primitive a BPF
// sleepable program's user-memory helper would use under the hood.
func ReadRemoteBytes(tid int, addr uint64, n int) ([]byte, error) {
	if addr == 0 || n <= 0 {
		return nil, fmt.Errorf("enrich: invalid remote read addr=%#x n=%d", addr, n)
	}
	buf := make([]byte, n)
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(n)}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: n}}
	got, err := unix.ProcessVMReadv(tid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("process_vm_readv pid=%d addr=%#x: %w", tid, addr, err)
	}
	if got != n {
		return buf[:got], fmt.Errorf("enrich: short remote read: got %d want %d", got, n)
	}
	return buf, nil
}

// ReadRemoteUint64 reads one little-endian uint64 from tid's address space.
func ReadRemoteUint64(tid int, addr uint64) (uint64, error) {
	b, err := ReadRemoteBytes(tid, addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadRemoteUint32 reads one little-endian uint32 from tid's address space.
func ReadRemoteUint32(tid int, addr uint64) (uint32, error) {
	b, err := ReadRemoteBytes(tid, addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadRemoteUint16 reads one little-endian uint16 from tid's address space.
func ReadRemoteUint16(tid int, addr uint64) (uint16, error) {
	b, err := ReadRemoteBytes(tid, addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadRemoteUint8 reads one byte from tid's address space.
func ReadRemoteUint8(tid int, addr uint64) (uint8, error) {
	b, err := ReadRemoteBytes(tid, addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}
