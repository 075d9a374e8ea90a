package transmit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/pkg/iface"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/pkg/route"
)

// lowDelayTOS is IPTOS_LOWDELAY, also used as the IPv6 traffic class.
const lowDelayTOS = 0x10

// lookupNetIP is a variable for mocking in tests.
var lookupNetIP = net.DefaultResolver.LookupNetIP

// SessionInfo describes an open session.
type SessionInfo struct {
	Destination netip.AddrPort `json:"destination"`
	LocalAddr   string         `json:"local_addr"`
	Interface   string         `json:"interface,omitempty"`
	Broadcast   bool           `json:"broadcast"`
	LowDelay    bool           `json:"low_delay"`
}

// Session owns one UDP socket bound to a resolved destination.
//
// Writes, rate limiter updates and Close share one mutex so a send never
// races a close. Reads do not take it; they observe the closed flag and are
// unblocked by Close closing the descriptor.
type Session struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
	info SessionInfo

	mu      sync.Mutex
	limiter *RateLimiter
	closed  atomic.Bool
}

// OpenSession resolves host once, opens a UDP socket and applies the
// low-delay hint. Broadcast is enabled when the destination is a broadcast
// address on its egress interface. limiter may be nil.
func OpenSession(ctx context.Context, host string, port int, limiter *RateLimiter) (*Session, error) {
	addr, err := resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	dst := netip.AddrPortFrom(addr, uint16(port))

	info := SessionInfo{Destination: dst}
	var egress *net.Interface
	if r, err := route.Get(addr); err == nil {
		egress = r.Interface
		info.Interface = r.Interface.Name
	} else {
		slog.Debug("Egress route lookup failed", "destination", addr, "error", err)
	}
	info.Broadcast = iface.IsBroadcast(addr, egress)

	network := "udp4"
	if addr.Is6() {
		network = "udp6"
	}
	lc := net.ListenConfig{Control: socketControl(info.Broadcast)}
	pc, err := lc.ListenPacket(ctx, network, ":0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("%w: unexpected connection type %T", ErrBind, pc)
	}
	info.LocalAddr = conn.LocalAddr().String()

	if err := setLowDelay(conn, addr.Is6()); err != nil {
		slog.Debug("Failed to apply low-delay hint", "error", err)
	} else {
		info.LowDelay = true
	}

	slog.Debug("Opened UDP session",
		"destination", dst,
		"local", info.LocalAddr,
		"interface", info.Interface,
		"broadcast", info.Broadcast,
		"low_delay", info.LowDelay,
	)

	return &Session{
		conn:    conn,
		dst:     net.UDPAddrFromAddrPort(dst),
		info:    info,
		limiter: limiter,
	}, nil
}

func resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}
	addrs, err := lookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %v", ErrResolution, host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s: no addresses", ErrResolution, host)
	}
	// Prefer IPv4
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap(), nil
		}
	}
	return addrs[0], nil
}

func setLowDelay(conn *net.UDPConn, isIPv6 bool) error {
	if isIPv6 {
		return ipv6.NewConn(conn).SetTrafficClass(lowDelayTOS)
	}
	return ipv4.NewConn(conn).SetTOS(lowDelayTOS)
}

// Info returns the session description.
func (s *Session) Info() SessionInfo {
	return s.info
}

// Send transmits one datagram after consulting the rate limiter. The
// limiter check, the write and Close are serialized.
func (s *Session) Send(b []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSocketClosed
	}
	if s.limiter != nil {
		if ok, remaining := s.limiter.TryAcquire(now); !ok {
			return &RateLimitError{Remaining: remaining}
		}
	}
	if _, err := s.conn.WriteToUDP(b, s.dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrSocketClosed
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Receive blocks until a datagram arrives, the session is closed or a
// pending read is interrupted. buf must be large enough for one datagram.
func (s *Session) Receive(buf []byte) (ReceivedDatagram, error) {
	if s.closed.Load() {
		return ReceivedDatagram{}, ErrSocketClosed
	}
	n, from, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		switch {
		case s.closed.Load(), errors.Is(err, net.ErrClosed):
			return ReceivedDatagram{}, ErrSocketClosed
		case errors.Is(err, os.ErrDeadlineExceeded):
			return ReceivedDatagram{}, errReceiveInterrupted
		}
		return ReceivedDatagram{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return ReceivedDatagram{
		Timestamp:  time.Now(),
		SourceHost: from.Addr().Unmap().String(),
		SourcePort: int(from.Port()),
		Payload:    append([]byte(nil), buf[:n]...),
		Length:     n,
	}, nil
}

var errReceiveInterrupted = errors.New("receive interrupted")

// interruptReceive wakes a blocked Receive without closing the socket.
func (s *Session) interruptReceive() {
	s.conn.SetReadDeadline(time.Now())
}

// resumeReceive clears a previous interruptReceive.
func (s *Session) resumeReceive() {
	s.conn.SetReadDeadline(time.Time{})
}

// Close releases the socket. It waits for an in-flight send, unblocks any
// pending Receive and is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
