//go:build !unix

package dhcpsvc

import "syscall"

// listenControl is the function to be set to net.ListenConfig.Control.  The
// socket options aren't configured on this platform.
func listenControl(_, _ string, _ syscall.RawConn) (err error) {
	return nil
}
