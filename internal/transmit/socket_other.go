//go:build !unix

package transmit

import (
	"syscall"
)

// Broadcast destinations are not supported off unix platforms.
func socketControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
