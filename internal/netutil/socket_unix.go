//go:build !windows

// Package netutil constructs the relay's single UDP socket with the
// address-reuse and broadcast options the relay engine requires.
package netutil

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenUDP binds a UDP socket to addr with SO_REUSEADDR and SO_BROADCAST
// set before bind(2), matching net_opt_reuse/net_opt_broadcast in the
// reference implementation this relay is modeled on.
func ListenUDP(network, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctlErr = err
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
					ctlErr = err
					return
				}
			})
			if err != nil {
				return err
			}
			return ctlErr
		},
	}

	conn, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	return conn.(*net.UDPConn), nil
}
