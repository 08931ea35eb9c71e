//go:build !unix

package network

import (
	"syscall"
)

func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}
