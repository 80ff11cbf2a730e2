//go:build unix

package vision

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddr lets several processes on one host listen to the same vision
// group and port.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
