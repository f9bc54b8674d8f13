//go:build unix

package dhcpsvc

import (
	"fmt"
	"os"
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
	"golang.org/x/sys/unix"
)

// listenControl is the function to be set to net.ListenConfig.Control.  It
// configures the socket to have a reusable binding and to be able to send
// broadcast datagrams.
func listenControl(_, _ string, c syscall.RawConn) (err error) {
	cerr := c.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if err != nil {
			err = os.NewSyscallError("setsockopt SO_REUSEADDR", err)

			return
		}

		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		if err != nil {
			err = os.NewSyscallError("setsockopt SO_BROADCAST", err)
		}
	})

	err = errors.Join(err, cerr)
	if err != nil {
		return fmt.Errorf("setting control options: %w", err)
	}

	return nil
}
