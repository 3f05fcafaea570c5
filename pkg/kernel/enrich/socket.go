//go:build linux

package enrich

import (
	"bufio"
	"encoding/hex"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

var tcpStates = map[int]string{
	1: "ESTABLISHED", 2: "SYN_SENT", 3: "SYN_RECV", 4: "FIN_WAIT1",
	5: "FIN_WAIT2", 6: "TIME_WAIT", 7: "CLOSE", 8: "CLOSE_WAIT",
	9: "LAST_ACK", 10: "LISTEN", 11: "CLOSING",
}

// Socket resolves a socket inode against /proc/net/tcp and /proc/net/tcp6
// to recover its 4-tuple and state. This is the unprivileged, systemwide
// analog of dereferencing a struct sock pointer: the full struct tcp_info
// block (rtt, cwnd, retransmits, delivery rate, ...) that getsockopt
// exposes is only readable for sockets this process owns, so on a socket
// belonging to another task we return the 4-tuple/state that /proc/net/tcp
// already publishes system-wide and leave TCP nil — the TaskSample simply
// carries less detail for foreign-process sockets than for its own.
func Socket(inode uint64) Result {
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		if r, ok := scanProcNetTCP(path, inode); ok {
			return r
		}
	}
	return Result{}
}

func scanProcNetTCP(path string, inode uint64) (Result, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Scan() // header line
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		// sl local rem st tx_q:rx_q tr:tm_when retrnsmt uid timeout inode ...
		if len(fields) < 10 {
			continue
		}
		ino, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil || ino != inode {
			continue
		}
		localAddr, localPort := splitHexAddr(fields[1])
		remAddr, remPort := splitHexAddr(fields[2])
		state, _ := strconv.ParseInt(fields[3], 16, 64)

		conn := xcapture.Connection4{
			LocalAddr: localAddr, LocalPort: localPort,
			RemoteAddr: remAddr, RemotePort: remPort,
		}
		stateName := tcpStates[int(state)]
		res := Result{Connection: conn, ConnState: stateName}
		if stateName != "LISTEN" {
			res.TCP = &xcapture.TCPInfo{State: stateName}
		}
		return res, true
	}
	return Result{}, false
}

// splitHexAddr decodes /proc/net/tcp's "ADDR:PORT" hex fields, e.g.
// "0100007F:1F90" -> "127.0.0.1", 8080.
func splitHexAddr(field string) (string, uint16) {
	parts := strings.SplitN(field, ":", 2)
	if len(parts) != 2 {
		return "", 0
	}
	addrBytes, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", 0
	}
	port, _ := strconv.ParseUint(parts[1], 16, 32)

	// /proc/net/tcp stores the address in host-endian 32-bit words, i.e.
	// byte-reversed within each 4-byte group relative to network order.
	for i := 0; i+4 <= len(addrBytes); i += 4 {
		addrBytes[i], addrBytes[i+1], addrBytes[i+2], addrBytes[i+3] =
			addrBytes[i+3], addrBytes[i+2], addrBytes[i+1], addrBytes[i]
	}
	ip := net.IP(addrBytes)
	return ip.String(), uint16(port)
}

// IsDaemonPort applies the daemon-port heuristic: a sleeping task whose
// observed socket is listening, or bound to a well-known low port, is
// considered a daemon idling for work rather than something worth sampling.
func IsDaemonPort(state string, localPort uint16, threshold uint16) bool {
	if state == "LISTEN" {
		return true
	}
	return localPort != 0 && localPort <= threshold
}
