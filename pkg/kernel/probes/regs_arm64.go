//go:build linux && arm64

package probes

import "golang.org/x/sys/unix"

type regView struct {
	SyscallNr  int64
	RetValue   int64
	SP, FP, PC uint64
}

func getRegs(tid int) (regView, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return regView{}, err
	}
	// arm64 syscall ABI: x8 carries the syscall number, x0 the return value
	// on exit, x29 is the frame pointer, x30 usually holds the link register
	// but the frame-pointer chain walk only needs Sp/Fp/Pc.
	return regView{
		SyscallNr: int64(regs.Regs[8]),
		RetValue:  int64(regs.Regs[0]),
		SP:        regs.Sp,
		FP:        regs.Regs[29],
		PC:        regs.Pc,
	}, nil
}
