// Package iface answers questions about local network interfaces.
package iface

import (
	"net"
	"net/netip"
)

// LimitedBroadcast is 255.255.255.255.
var LimitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// interfaceAddrs is a variable for mocking in tests.
var interfaceAddrs = func(intf *net.Interface) ([]net.Addr, error) {
	return intf.Addrs()
}

// DirectedBroadcast returns the broadcast address of an IPv4 prefix.
// It returns the zero Addr for IPv6 and for /31 and /32 prefixes, which
// have no broadcast address.
func DirectedBroadcast(prefix netip.Prefix) netip.Addr {
	addr := prefix.Addr().Unmap()
	if !addr.Is4() || prefix.Bits() >= 31 || prefix.Bits() < 0 {
		return netip.Addr{}
	}
	b := addr.As4()
	hostBits := 32 - prefix.Bits()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	v |= (1 << hostBits) - 1
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// IsBroadcast reports whether sending to ip requires SO_BROADCAST: either
// the limited broadcast address or the directed broadcast address of one of
// intf's IPv4 subnets. intf may be nil.
func IsBroadcast(ip netip.Addr, intf *net.Interface) bool {
	ip = ip.Unmap()
	if ip == LimitedBroadcast {
		return true
	}
	if intf == nil || !ip.Is4() {
		return false
	}
	if intf.Flags&net.FlagBroadcast == 0 {
		return false
	}

	addrs, err := interfaceAddrs(intf)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ones, _ := ipnet.Mask.Size()
		if DirectedBroadcast(netip.PrefixFrom(addr.Unmap(), ones)) == ip {
			return true
		}
	}
	return false
}
