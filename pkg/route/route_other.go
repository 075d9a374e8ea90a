//go:build !linux

package route

import (
	"net/netip"
)

func get(ip netip.Addr) (Route, error) {
	src, err := probeSource(ip)
	if err != nil {
		return Route{}, err
	}
	intf, err := interfaceForSource(src)
	if err != nil {
		return Route{}, err
	}
	return Route{Destination: ip, Source: src, Interface: intf}, nil
}
