package transmit

import (
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// HealthState is a discrete connection quality classification. The zero
// value is HealthDisconnected and states are ordered, worst first.
type HealthState int

const (
	HealthDisconnected HealthState = iota
	HealthPoor
	HealthFair
	HealthGood
	HealthExcellent
)

var healthNames = map[HealthState]string{
	HealthDisconnected: "DISCONNECTED",
	HealthPoor:         "POOR",
	HealthFair:         "FAIR",
	HealthGood:         "GOOD",
	HealthExcellent:    "EXCELLENT",
}

func (h HealthState) String() string {
	if name, ok := healthNames[h]; ok {
		return name
	}
	return "UNKNOWN"
}

func (h HealthState) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *HealthState) UnmarshalText(text []byte) error {
	for state, name := range healthNames {
		if name == string(text) {
			*h = state
			return nil
		}
	}
	return fmt.Errorf("unknown health state %q", text)
}

const (
	DefaultHealthWindow = 20
	DefaultFailureRun   = 3
	DefaultEchoTimeout  = 2 * time.Second
	rttSamples          = 8
	maxPendingEchoes    = 256
)

// Ratio and latency band floors/ceilings, best band first.
var (
	ratioBands   = [...]float64{0.95, 0.80, 0.50}
	latencyBands = [...]time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 500 * time.Millisecond}
)

type healthEntry struct {
	at      time.Time
	send    bool
	success bool
}

// HealthSnapshot is a point-in-time view of the monitor.
type HealthSnapshot struct {
	State        HealthState   `json:"state"`
	SuccessRatio float64       `json:"success_ratio"`
	Samples      int           `json:"samples"`
	AvgRTT       time.Duration `json:"avg_rtt,omitempty"`
}

// HealthMonitor classifies connection health from a bounded window of recent
// send and receive events. Classification is recomputed synchronously on
// every recorded event.
//
// Round-trip latency is measured when a received datagram echoes a payload
// sent within the echo timeout; payloads are matched by CRC32.
type HealthMonitor struct {
	mu         sync.Mutex
	window     []healthEntry
	next       int
	count      int
	failureRun int
	rtts       []time.Duration
	rttNext    int
	rttCount   int
	pending    *ttlcache.Cache[uint32, time.Time]
	connected  bool
	state      HealthState
}

// NewHealthMonitor returns a monitor with the given window size and
// consecutive failure threshold. Non-positive values select the defaults.
func NewHealthMonitor(window, failureRun int, echoTimeout time.Duration) *HealthMonitor {
	if window <= 0 {
		window = DefaultHealthWindow
	}
	if failureRun <= 0 {
		failureRun = DefaultFailureRun
	}
	if echoTimeout <= 0 {
		echoTimeout = DefaultEchoTimeout
	}
	failureRun = min(failureRun, window)
	return &HealthMonitor{
		window:     make([]healthEntry, window),
		failureRun: failureRun,
		rtts:       make([]time.Duration, rttSamples),
		pending: ttlcache.New(
			ttlcache.WithTTL[uint32, time.Time](echoTimeout),
			ttlcache.WithCapacity[uint32, time.Time](maxPendingEchoes),
			ttlcache.WithDisableTouchOnHit[uint32, time.Time](),
		),
	}
}

// SetConnected marks the session open or closed. Opening a session clears
// the history of the previous one.
func (hm *HealthMonitor) SetConnected(connected bool) HealthState {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if connected && !hm.connected {
		hm.resetLocked()
	}
	hm.connected = connected
	hm.state = hm.classifyLocked()
	return hm.state
}

// RecordSend adds a send outcome. Rate limit rejections are not faults and
// do not enter the window. A failed send drops its pending echo.
func (hm *HealthMonitor) RecordSend(o SendOutcome) HealthState {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if !o.Success && len(o.payload) > 0 {
		hm.pending.Delete(crc32.ChecksumIEEE(o.payload))
	}
	if o.ErrorKind == KindRateLimited {
		return hm.state
	}
	hm.pushLocked(healthEntry{at: o.Timestamp, send: true, success: o.Success})
	hm.state = hm.classifyLocked()
	return hm.state
}

// ExpectEcho registers payload as sent at sentAt so a matching datagram
// received within the echo timeout yields an RTT sample. It must be called
// before the payload is written; an echo may arrive before RecordSend.
func (hm *HealthMonitor) ExpectEcho(payload []byte, sentAt time.Time) {
	if len(payload) == 0 {
		return
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.pending.DeleteExpired()
	hm.pending.Set(crc32.ChecksumIEEE(payload), sentAt, ttlcache.DefaultTTL)
}

// RecordReceive adds an inbound datagram, taking an RTT sample when it
// echoes a recent send.
func (hm *HealthMonitor) RecordReceive(d ReceivedDatagram) HealthState {
	state, _ := hm.recordReceive(d)
	return state
}

// recordReceive is RecordReceive that also returns the RTT sample taken, or
// zero when d matched no pending echo.
func (hm *HealthMonitor) recordReceive(d ReceivedDatagram) (HealthState, time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.pushLocked(healthEntry{at: d.Timestamp, success: true})
	var sample time.Duration
	key := crc32.ChecksumIEEE(d.Payload)
	if item := hm.pending.Get(key); item != nil {
		hm.pending.Delete(key)
		if rtt := d.Timestamp.Sub(item.Value()); rtt >= 0 {
			hm.rtts[hm.rttNext] = rtt
			hm.rttNext = (hm.rttNext + 1) % len(hm.rtts)
			hm.rttCount = min(hm.rttCount+1, len(hm.rtts))
			sample = rtt
		}
	}
	hm.state = hm.classifyLocked()
	return hm.state, sample
}

// State returns the most recent classification.
func (hm *HealthMonitor) State() HealthState {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.state
}

// Snapshot returns the classification together with its inputs.
func (hm *HealthMonitor) Snapshot() HealthSnapshot {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	ratio, samples := hm.ratioLocked()
	avg, _ := hm.avgRTTLocked()
	return HealthSnapshot{
		State:        hm.state,
		SuccessRatio: ratio,
		Samples:      samples,
		AvgRTT:       avg,
	}
}

func (hm *HealthMonitor) resetLocked() {
	clear(hm.window)
	hm.next, hm.count = 0, 0
	clear(hm.rtts)
	hm.rttNext, hm.rttCount = 0, 0
	hm.pending.DeleteAll()
}

func (hm *HealthMonitor) pushLocked(e healthEntry) {
	hm.window[hm.next] = e
	hm.next = (hm.next + 1) % len(hm.window)
	hm.count = min(hm.count+1, len(hm.window))
}

// recentLocked returns the i-th most recent entry, 0 being the newest.
func (hm *HealthMonitor) recentLocked(i int) healthEntry {
	idx := (hm.next - 1 - i + len(hm.window)*2) % len(hm.window)
	return hm.window[idx]
}

func (hm *HealthMonitor) ratioLocked() (float64, int) {
	if hm.count == 0 {
		return 0, 0
	}
	ok := 0
	for i := range hm.count {
		if hm.recentLocked(i).success {
			ok++
		}
	}
	return float64(ok) / float64(hm.count), hm.count
}

func (hm *HealthMonitor) avgRTTLocked() (time.Duration, bool) {
	if hm.rttCount == 0 {
		return 0, false
	}
	var sum time.Duration
	for i := range hm.rttCount {
		sum += hm.rtts[i]
	}
	return sum / time.Duration(hm.rttCount), true
}

func (hm *HealthMonitor) classifyLocked() HealthState {
	if !hm.connected {
		return HealthDisconnected
	}
	if hm.trailingFailuresLocked() >= hm.failureRun {
		return HealthDisconnected
	}

	ratio, samples := hm.ratioLocked()
	state := HealthGood
	if samples > 0 {
		state = ratioBand(ratio)
	}
	if rtt, ok := hm.avgRTTLocked(); ok {
		state = min(state, latencyBand(rtt))
	}
	return state
}

// trailingFailuresLocked counts the newest consecutive failed sends, up to
// failureRun. Receives in between are skipped.
func (hm *HealthMonitor) trailingFailuresLocked() int {
	n := 0
	for i := 0; i < hm.count && n < hm.failureRun; i++ {
		e := hm.recentLocked(i)
		if !e.send {
			continue
		}
		if e.success {
			break
		}
		n++
	}
	return n
}

func ratioBand(ratio float64) HealthState {
	switch {
	case ratio >= ratioBands[0]:
		return HealthExcellent
	case ratio >= ratioBands[1]:
		return HealthGood
	case ratio >= ratioBands[2]:
		return HealthFair
	default:
		return HealthPoor
	}
}

func latencyBand(rtt time.Duration) HealthState {
	switch {
	case rtt < latencyBands[0]:
		return HealthExcellent
	case rtt < latencyBands[1]:
		return HealthGood
	case rtt < latencyBands[2]:
		return HealthFair
	default:
		return HealthPoor
	}
}
