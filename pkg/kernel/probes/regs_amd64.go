//go:build linux && amd64

package probes

import "golang.org/x/sys/unix"

// regView extracts the handful of register fields the syscall probe cares
// about from the architecture-specific unix.PtraceRegs, isolating the rest
// of the package from the amd64/arm64 struct layout difference.
type regView struct {
	SyscallNr int64
	RetValue  int64
	SP, FP, PC uint64
}

func getRegs(tid int) (regView, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return regView{}, err
	}
	return regView{
		SyscallNr: int64(regs.Orig_rax),
		RetValue:  int64(regs.Rax),
		SP:        regs.Rsp,
		FP:        regs.Rbp,
		PC:        regs.Rip,
	}, nil
}
