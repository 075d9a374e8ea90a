package transmit

import (
	"net"
	"testing"
	"time"
)

// udpPeer is a loopback UDP socket standing in for the trigger receiver.
type udpPeer struct {
	conn    *net.UDPConn
	packets chan []byte
}

// startPeer listens on 127.0.0.1. When echo is set every datagram is sent
// back to its source.
func startPeer(t *testing.T, echo bool) *udpPeer {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &udpPeer{conn: conn, packets: make(chan []byte, 1024)}
	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			data := append([]byte(nil), buf[:n]...)
			if echo {
				conn.WriteToUDP(data, from)
			}
			select {
			case p.packets <- data:
			default:
			}
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return p
}

func (p *udpPeer) port() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

func (p *udpPeer) config() Config {
	return Config{Host: "127.0.0.1", Port: p.port(), PacketContent: "ping"}
}

func (p *udpPeer) next(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-p.packets:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
		return nil
	}
}
