// Package route finds the egress interface and source address the kernel
// will use to reach a destination.
package route

import (
	"errors"
	"net"
	"net/netip"
)

var ErrNoRoute = errors.New("no route to destination")

// Route is the kernel's choice of egress for one destination.
type Route struct {
	Destination netip.Addr
	Source      netip.Addr
	Interface   *net.Interface
}

// Get returns the route the kernel would use for ip.
func Get(ip netip.Addr) (Route, error) {
	if !ip.IsValid() {
		return Route{}, ErrNoRoute
	}
	return get(ip.Unmap())
}

// interfaceForSource finds the interface holding src. Variable for mocking
// in tests.
var interfaceForSource = func(src netip.Addr) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if addr, ok := netip.AddrFromSlice(ipnet.IP); ok && addr.Unmap() == src {
				return &ifaces[i], nil
			}
		}
	}
	return nil, ErrNoRoute
}

// probeSource asks the kernel for the source address by connecting an
// unbound UDP socket. Nothing is sent.
func probeSource(ip netip.Addr) (netip.Addr, error) {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, 9)))
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, ErrNoRoute
	}
	return local.AddrPort().Addr().Unmap(), nil
}
