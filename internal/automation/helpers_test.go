package automation

import (
	"net"
	"testing"
	"time"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

// startPeer returns port and received datagrams of a loopback UDP receiver.
func startPeer(t *testing.T) (int, <-chan string) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	packets := make(chan string, 64)
	go func() {
		buf := make([]byte, 65535)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			select {
			case packets <- string(buf[:n]):
			default:
			}
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port, packets
}

func nextPacket(t *testing.T, packets <-chan string) string {
	t.Helper()
	select {
	case p := <-packets:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
		return ""
	}
}

func newTestHandler(t *testing.T) (*Handler, *transmit.Controller) {
	t.Helper()
	ctrl := transmit.NewController(transmit.Options{})
	t.Cleanup(ctrl.Close)
	return NewHandler(ctrl, nil, nil), ctrl
}

func ptr[T any](v T) *T {
	return &v
}
