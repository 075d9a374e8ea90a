package transmit

import (
	"errors"
	"time"
)

// clockOrigin anchors monotonic timestamps for the life of the process.
var clockOrigin = time.Now()

// monotonicNanos returns nanoseconds elapsed on the monotonic clock since
// process start.
func monotonicNanos(t time.Time) int64 {
	return t.Sub(clockOrigin).Nanoseconds()
}

// SendOutcome is the result of one send attempt.
type SendOutcome struct {
	Timestamp      time.Time     `json:"timestamp"`
	MonotonicNanos int64         `json:"monotonic_nanos"`
	Success        bool          `json:"success"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	Error          string        `json:"error,omitempty"`
	ByteLength     int           `json:"byte_length"`
	BurstIndex     int           `json:"burst_index,omitempty"`
	RetryAfter     time.Duration `json:"retry_after,omitempty"`

	payload []byte
}

// Payload returns the bytes that were handed to the socket. It is nil for
// attempts that failed before a payload was built.
func (o SendOutcome) Payload() []byte {
	return o.payload
}

func newOutcome(now time.Time, payload []byte, burstIndex int, err error) SendOutcome {
	o := SendOutcome{
		Timestamp:      now,
		MonotonicNanos: monotonicNanos(now),
		Success:        err == nil,
		ByteLength:     len(payload),
		BurstIndex:     burstIndex,
		payload:        payload,
	}
	if err != nil {
		o.ErrorKind = KindOf(err)
		o.Error = err.Error()
		var rl *RateLimitError
		if errors.As(err, &rl) {
			o.RetryAfter = rl.Remaining
		}
	}
	return o
}

// ReceivedDatagram is one inbound datagram read while listening.
type ReceivedDatagram struct {
	Timestamp  time.Time `json:"timestamp"`
	SourceHost string    `json:"source_host"`
	SourcePort int       `json:"source_port"`
	Payload    []byte    `json:"payload"`
	Length     int       `json:"length"`

	// EchoRTT is set when the datagram echoes a recent send.
	EchoRTT time.Duration `json:"echo_rtt,omitempty"`
}
