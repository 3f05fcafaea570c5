//go:build linux

package enrich

import (
	"encoding/binary"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestReadRingHeaderSelf(t *testing.T) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[ringOffHead:], 3)
	binary.LittleEndian.PutUint32(buf[ringOffTail:], 9)
	binary.LittleEndian.PutUint32(buf[ringOffMask:], 0xff)

	base := uint64(uintptr(unsafe.Pointer(&buf[0])))
	h, err := readRingHeader(os.Getpid(), base)
	require.NoError(t, err)
	require.EqualValues(t, 3, h.head)
	require.EqualValues(t, 9, h.tail)
	require.EqualValues(t, 0xff, h.mask)
	require.EqualValues(t, 6, h.pending())
}

func TestDecodeSQEFixedFileSkipsFileResolution(t *testing.T) {
	sqe := make([]byte, sqeSize)
	sqe[sqeOffOpcode] = 22 // READ
	sqe[sqeOffFlags] = ioSQEFixedFile
	binary.LittleEndian.PutUint32(sqe[sqeOffFD:], 3)
	binary.LittleEndian.PutUint64(sqe[sqeOffOff:], 4096)
	binary.LittleEndian.PutUint32(sqe[sqeOffLen:], 512)

	sqesBase := uint64(uintptr(unsafe.Pointer(&sqe[0])))
	sq := ringHeader{head: 0, tail: 1, mask: 0}

	res := Result{}
	decodeSQE(os.Getpid(), sqesBase, sq, &res)

	require.Contains(t, res.Extra.String(), "uring_opcode=READ")
	require.Contains(t, res.Extra.String(), "uring_filename=fixed:3")
	require.Empty(t, res.Filename, "a fixed-file fd must not be resolved against /proc/<tid>/fd")
}

func TestDecodeSQEResolvesRealFD(t *testing.T) {
	sqe := make([]byte, sqeSize)
	sqe[sqeOffOpcode] = 23 // WRITE
	binary.LittleEndian.PutUint32(sqe[sqeOffFD:], 1)

	sqesBase := uint64(uintptr(unsafe.Pointer(&sqe[0])))
	sq := ringHeader{head: 0, tail: 1, mask: 0}

	res := Result{}
	decodeSQE(os.Getpid(), sqesBase, sq, &res)

	require.Contains(t, res.Extra.String(), "uring_opcode=WRITE")
	require.NotEmpty(t, res.Filename, "a non-fixed fd must be resolved to its target")
}

func TestSqeOpcodeNameFallsBackToNumeric(t *testing.T) {
	require.Equal(t, "NOP", sqeOpcodeName(0))
	require.Equal(t, "op_200", sqeOpcodeName(200))
}
