//go:build !unix

package vision

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error { return nil }
