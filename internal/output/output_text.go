package output

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/pkg/ptr"
)

// TextOutput prints one human-readable line per event. It is used when
// stdout is not a terminal and JSON was not requested.
type TextOutput struct {
	mu  sync.Mutex
	w   io.Writer
	ptr *ptr.PtrManager
}

// NewTextOutput writes to w. Datagram sources are annotated with reverse
// DNS names when pm is non-nil.
func NewTextOutput(w io.Writer, pm *ptr.PtrManager) *TextOutput {
	return &TextOutput{w: w, ptr: pm}
}

func (t *TextOutput) HandleEvent(ev transmit.Event) {
	line := describeEvent(ev, t.ptr)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s %s\n", ev.Time.Format("15:04:05.000"), line)
}

func (t *TextOutput) Close() error { return nil }

// describeEvent renders ev as a single line, or "" for events that carry
// nothing worth printing.
func describeEvent(ev transmit.Event, pm *ptr.PtrManager) string {
	switch ev.Type {
	case transmit.EventState:
		if ev.Status == nil {
			return ""
		}
		s := "state " + ev.Status.State.String()
		if ev.Status.Config != nil {
			s += " " + ev.Status.Config.Address()
		}
		if ev.Status.LastError != "" && !ev.Status.Connected() {
			s += " (" + ev.Status.LastError + ")"
		}
		return s

	case transmit.EventSent:
		o := ev.Outcome
		if o == nil {
			return ""
		}
		prefix := "sent"
		if o.BurstIndex > 0 {
			prefix = "sent #" + strconv.Itoa(o.BurstIndex)
		}
		switch {
		case o.Success:
			return fmt.Sprintf("%s %d bytes", prefix, o.ByteLength)
		case o.ErrorKind == transmit.KindRateLimited:
			return fmt.Sprintf("%s rate limited, retry in %s", prefix, o.RetryAfter.Round(time.Millisecond))
		default:
			return fmt.Sprintf("%s failed [%s]: %s", prefix, o.ErrorKind, o.Error)
		}

	case transmit.EventReceived:
		d := ev.Datagram
		if d == nil {
			return ""
		}
		s := fmt.Sprintf("recv %d bytes from %s", d.Length, sourceName(d, pm))
		if d.EchoRTT > 0 {
			s += fmt.Sprintf(" rtt %.2fms", float64(d.EchoRTT.Microseconds())/1000.0)
		}
		return s

	case transmit.EventReceiveError:
		return "receive error: " + ev.Error

	case transmit.EventHealth:
		return "health " + ev.Health.String()

	case transmit.EventBurstStarted:
		if ev.Burst == nil {
			return ""
		}
		return fmt.Sprintf("burst started: %d packets every %s", ev.Burst.Spec.PacketCount, ev.Burst.Spec.Delay)

	case transmit.EventBurstFinished:
		if ev.Burst == nil {
			return ""
		}
		s := fmt.Sprintf("burst finished: %d/%d ok", ev.Burst.Succeeded, ev.Burst.Sent)
		if ev.Burst.Cancelled {
			s += " (cancelled)"
		}
		return s
	}
	return ""
}

func sourceName(d *transmit.ReceivedDatagram, pm *ptr.PtrManager) string {
	addr := d.SourceHost + ":" + strconv.Itoa(d.SourcePort)
	if pm == nil {
		return addr
	}
	if name := pm.Lookup(d.SourceHost); name != "" {
		return fmt.Sprintf("%s (%s)", name, addr)
	}
	return addr
}
