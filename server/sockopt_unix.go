//go:build unix

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSocketOptions enlarges a listener's accepted sockets' buffers and
// disables Nagle's algorithm, favoring the tunnel's low-latency interactive
// traffic over throughput on a handful of bytes saved on the wire.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		sysErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, 1024*1024)
		if sysErr != nil {
			return
		}
		sysErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, 1024*1024)
		if sysErr != nil {
			return
		}
		sysErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return sysErr
}
