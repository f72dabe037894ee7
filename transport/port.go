package transport

import (
	"context"
	"net"

	"github.com/m4xw311/kernelio/errors"
)

// FindFreePort binds a listener to an OS-assigned loopback port, closes
// it, and returns the port. Nothing holds the port afterwards, so another
// process may claim it before the kernel binds it.
func FindFreePort(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Wrapf(err, "finding a free port")
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return 0, errors.Wrapf(err, "listening on loopback")
	}

	port := 0
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	if err := listener.Close(); err != nil {
		return 0, errors.Wrapf(err, "closing port listener")
	}
	if port == 0 {
		return 0, errors.ErrNoPort
	}
	return port, nil
}
