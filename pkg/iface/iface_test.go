package iface

import (
	"net"
	"net/netip"
	"testing"
)

func TestDirectedBroadcast(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"192.168.1.10/24", "192.168.1.255"},
		{"10.0.0.1/8", "10.255.255.255"},
		{"172.16.5.4/20", "172.16.15.255"},
		{"192.168.1.10/30", "192.168.1.11"},
		{"0.0.0.0/0", "255.255.255.255"},
		{"192.168.1.10/31", "invalid IP"},
		{"192.168.1.10/32", "invalid IP"},
		{"2001:db8::1/64", "invalid IP"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got := DirectedBroadcast(netip.MustParsePrefix(tt.prefix))
			if got.String() != tt.want {
				t.Errorf("DirectedBroadcast(%s) = %s, want %s", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestIsBroadcast(t *testing.T) {
	oldAddrs := interfaceAddrs
	defer func() { interfaceAddrs = oldAddrs }()
	interfaceAddrs = func(*net.Interface) ([]net.Addr, error) {
		_, lan, _ := net.ParseCIDR("192.168.1.0/24")
		lan.IP = net.ParseIP("192.168.1.20").To4()
		return []net.Addr{
			lan,
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		}, nil
	}

	eth := &net.Interface{Name: "eth0", Flags: net.FlagUp | net.FlagBroadcast}
	ptp := &net.Interface{Name: "tun0", Flags: net.FlagUp | net.FlagPointToPoint}

	tests := []struct {
		name string
		ip   string
		intf *net.Interface
		want bool
	}{
		{"limited broadcast without interface", "255.255.255.255", nil, true},
		{"directed broadcast", "192.168.1.255", eth, true},
		{"unicast on subnet", "192.168.1.1", eth, false},
		{"other subnet broadcast", "192.168.2.255", eth, false},
		{"no interface", "192.168.1.255", nil, false},
		{"point-to-point interface", "192.168.1.255", ptp, false},
		{"IPv6", "fe80::ffff", eth, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBroadcast(netip.MustParseAddr(tt.ip), tt.intf); got != tt.want {
				t.Errorf("IsBroadcast(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
