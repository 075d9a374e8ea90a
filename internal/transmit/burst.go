package transmit

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	MinBurstPackets = 1
	MaxBurstPackets = 100
	MinBurstDelay   = 10 * time.Millisecond
	MaxBurstDelay   = 5000 * time.Millisecond
)

// BurstSpec describes a bounded run of packets sent at a fixed cadence.
type BurstSpec struct {
	Enabled     bool          `json:"enabled"`
	PacketCount int           `json:"packet_count"`
	Delay       time.Duration `json:"delay"`
}

// NewBurstSpec returns an enabled spec with count clamped to [1,100] and
// delay clamped to [10ms,5s].
func NewBurstSpec(count int, delay time.Duration) BurstSpec {
	return BurstSpec{Enabled: true, PacketCount: count, Delay: delay}.Normalize()
}

// Normalize clamps PacketCount and Delay into their valid ranges.
func (b BurstSpec) Normalize() BurstSpec {
	b.PacketCount = max(MinBurstPackets, min(b.PacketCount, MaxBurstPackets))
	b.Delay = max(MinBurstDelay, min(b.Delay, MaxBurstDelay))
	return b
}

// BurstScheduler runs at most one burst at a time.
type BurstScheduler struct {
	sending atomic.Bool
}

// IsSending reports whether a burst is in flight.
func (bs *BurstScheduler) IsSending() bool {
	return bs.sending.Load()
}

// Run calls send for indexes 1..PacketCount, pacing sends Delay apart.
// Cancellation is observed between sends only; a send that has started
// always completes. Failed sends do not stop the burst.
func (bs *BurstScheduler) Run(ctx context.Context, spec BurstSpec, send func(index int) SendOutcome) ([]SendOutcome, error) {
	if !bs.sending.CompareAndSwap(false, true) {
		return nil, ErrBurstInProgress
	}
	defer bs.sending.Store(false)

	spec = spec.Normalize()
	outcomes := make([]SendOutcome, 0, spec.PacketCount)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	start := time.Now()
	for i := 1; i <= spec.PacketCount; i++ {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, send(i))
		if i == spec.PacketCount {
			break
		}

		// Pace against the burst start so slow sends do not stretch the cadence
		wait := time.Until(start.Add(time.Duration(i) * spec.Delay))
		if wait <= 0 {
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return outcomes, ctx.Err()
		case <-timer.C:
		}
	}
	return outcomes, nil
}
