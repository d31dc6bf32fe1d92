// Package netio sets up the UDP socket backing the internal peer protocol
// (RF control plane specification Section 6.2): receive buffer sizing and
// SO_REUSEADDR tuned the way the teacher's UDP listeners tune sockets via
// a net.ListenConfig.Control callback, adapted here from receive-buffer
// and reuse-address tuning rather than the GTSM TTL checks the teacher
// applies (no TTL security model in this specification).
package netio

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultRecvBufBytes is the receive buffer size requested for the peer
// protocol socket. Status/schedule/flow-stats/spectrum-stats updates
// arrive in bursts from every neighbor; a larger buffer reduces kernel
// drops under load spikes.
const DefaultRecvBufBytes = 1 << 20

// ListenUDP binds a UDP socket at addr with SO_REUSEADDR set and its
// receive buffer raised to recvBufBytes.
func ListenUDP(ctx context.Context, addr string, recvBufBytes int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufBytes)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen udp %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("netio: listen udp %s: unexpected conn type %T", addr, pc)
	}
	return conn, nil
}

// DialUDP opens a UDP socket pre-connected to addr, for sending to a
// single known peer.
func DialUDP(addr string) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("netio: dial udp %s: %w", addr, err)
	}
	return conn, nil
}
