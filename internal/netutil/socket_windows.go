//go:build windows

package netutil

import "net"

// ListenUDP binds a UDP socket to addr. On Windows the address-reuse and
// broadcast socket options set by the unix build are left at their
// platform defaults; the relay never sends to a literal broadcast address,
// so SO_BROADCAST has no effect on its forwarding behavior either way.
func ListenUDP(network, addr string) (*net.UDPConn, error) {
	a, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP(network, a)
}
