//go:build linux

package enrich

import (
	"encoding/binary"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestDecodeFirstIocbResolvesTargetFile(t *testing.T) {
	iocb := make([]byte, 64)
	binary.LittleEndian.PutUint16(iocb[iocbOffOpcode:], 1) // PWRITE
	binary.LittleEndian.PutUint32(iocb[iocbOffFildes:], 1) // stdout
	binary.LittleEndian.PutUint64(iocb[iocbOffNbytes:], 128)
	binary.LittleEndian.PutUint64(iocb[iocbOffOffset:], 256)
	iocbAddr := uint64(uintptr(unsafe.Pointer(&iocb[0])))

	iocbpp := []uint64{iocbAddr}
	iocbppAddr := uint64(uintptr(unsafe.Pointer(&iocbpp[0])))

	res := Result{}
	decodeFirstIocb(os.Getpid(), iocbppAddr, &res)

	require.Contains(t, res.Extra.String(), "aio_opcode=PWRITE")
	require.Contains(t, res.Extra.String(), "aio_nbytes=128")
	require.Contains(t, res.Extra.String(), "aio_offset=256")
	require.NotEmpty(t, res.Filename)
}

func TestAioOpcodeNameFallsBackToNumeric(t *testing.T) {
	require.Equal(t, "PREAD", aioOpcodeName(0))
	require.Equal(t, "op_99", aioOpcodeName(99))
}
