//go:build linux

package route

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

// fetchRouteMessages asks the kernel for the route to ip.
// Variable for mocking in tests.
var fetchRouteMessages = func(ip netip.Addr) ([]rtnetlink.RouteMessage, error) {
	c, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	af := unix.AF_INET
	if ip.Is6() {
		af = unix.AF_INET6
	}

	return c.Route.Get(&rtnetlink.RouteMessage{
		Family:     uint8(af),
		Table:      unix.RT_TABLE_MAIN,
		Attributes: rtnetlink.RouteAttributes{Dst: ip.AsSlice()},
	})
}

// interfaceByIndex is a variable for mocking in tests.
var interfaceByIndex = net.InterfaceByIndex

// routeFromMessages converts the RTM_GETROUTE reply for ip into a Route.
// The kernel answers with exactly one message, already resolved to the
// most specific entry.
func routeFromMessages(ip netip.Addr, msgs []rtnetlink.RouteMessage) (Route, error) {
	if len(msgs) != 1 {
		return Route{}, fmt.Errorf("%w: expected 1 route message for %s, got %d", ErrNoRoute, ip, len(msgs))
	}
	attrs := msgs[0].Attributes

	src, ok := netip.AddrFromSlice(attrs.Src)
	if !ok {
		return Route{}, fmt.Errorf("failed to parse source address: %v", attrs.Src)
	}
	intf, err := interfaceByIndex(int(attrs.OutIface))
	if err != nil {
		return Route{}, fmt.Errorf("failed to get interface by index %d: %w", attrs.OutIface, err)
	}
	if intf.Flags&net.FlagUp == 0 {
		return Route{}, fmt.Errorf("interface %s is down", intf.Name)
	}
	return Route{Destination: ip, Source: src.Unmap(), Interface: intf}, nil
}

func get(ip netip.Addr) (Route, error) {
	msgs, err := fetchRouteMessages(ip)
	if err != nil {
		// Fall back to a dial probe when netlink is unavailable
		src, perr := probeSource(ip)
		if perr != nil {
			return Route{}, fmt.Errorf("netlink: %v; probe: %w", err, perr)
		}
		intf, ierr := interfaceForSource(src)
		if ierr != nil {
			return Route{}, ierr
		}
		return Route{Destination: ip, Source: src, Interface: intf}, nil
	}
	return routeFromMessages(ip, msgs)
}
