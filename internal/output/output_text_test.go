package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

func TestDescribeEvent(t *testing.T) {
	cfg := &transmit.Config{Host: "10.0.0.1", Port: 5000}
	tests := []struct {
		name string
		ev   transmit.Event
		want string
	}{
		{
			name: "connected",
			ev:   transmit.Event{Type: transmit.EventState, Status: &transmit.Status{State: transmit.StateConnected, Config: cfg}},
			want: "state CONNECTED 10.0.0.1:5000",
		},
		{
			name: "disconnected with error",
			ev:   transmit.Event{Type: transmit.EventState, Status: &transmit.Status{State: transmit.StateDisconnected, LastError: "boom"}},
			want: "state DISCONNECTED (boom)",
		},
		{
			name: "sent",
			ev:   transmit.Event{Type: transmit.EventSent, Outcome: &transmit.SendOutcome{Success: true, ByteLength: 12}},
			want: "sent 12 bytes",
		},
		{
			name: "burst packet",
			ev:   transmit.Event{Type: transmit.EventSent, Outcome: &transmit.SendOutcome{Success: true, ByteLength: 3, BurstIndex: 2}},
			want: "sent #2 3 bytes",
		},
		{
			name: "rate limited",
			ev: transmit.Event{Type: transmit.EventSent, Outcome: &transmit.SendOutcome{
				ErrorKind: transmit.KindRateLimited, RetryAfter: 70 * time.Millisecond,
			}},
			want: "sent rate limited, retry in 70ms",
		},
		{
			name: "failed",
			ev: transmit.Event{Type: transmit.EventSent, Outcome: &transmit.SendOutcome{
				ErrorKind: transmit.KindIOFailure, Error: "network unreachable",
			}},
			want: "sent failed [io_failure]: network unreachable",
		},
		{
			name: "received with rtt",
			ev: transmit.Event{Type: transmit.EventReceived, Datagram: &transmit.ReceivedDatagram{
				SourceHost: "10.0.0.1", SourcePort: 5000, Length: 4, EchoRTT: 1500 * time.Microsecond,
			}},
			want: "recv 4 bytes from 10.0.0.1:5000 rtt 1.50ms",
		},
		{
			name: "receive error",
			ev:   transmit.Event{Type: transmit.EventReceiveError, Error: "read failed"},
			want: "receive error: read failed",
		},
		{
			name: "health",
			ev:   transmit.Event{Type: transmit.EventHealth, Health: transmit.HealthPoor},
			want: "health POOR",
		},
		{
			name: "burst started",
			ev: transmit.Event{Type: transmit.EventBurstStarted, Burst: &transmit.BurstSummary{
				Spec: transmit.NewBurstSpec(5, 100*time.Millisecond),
			}},
			want: "burst started: 5 packets every 100ms",
		},
		{
			name: "burst cancelled",
			ev: transmit.Event{Type: transmit.EventBurstFinished, Burst: &transmit.BurstSummary{
				Sent: 3, Succeeded: 2, Cancelled: true,
			}},
			want: "burst finished: 2/3 ok (cancelled)",
		},
		{
			name: "missing payload",
			ev:   transmit.Event{Type: transmit.EventSent},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeEvent(tt.ev, nil); got != tt.want {
				t.Errorf("describeEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	out := NewTextOutput(&buf, nil)

	at := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.Local)
	out.HandleEvent(transmit.Event{Type: transmit.EventHealth, Time: at, Health: transmit.HealthGood})
	out.HandleEvent(transmit.Event{Type: transmit.EventSent, Time: at})

	if got, want := buf.String(), "03:04:05.006 health GOOD\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if err := out.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Error("expected events without content to be skipped")
	}
}
