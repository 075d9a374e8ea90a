package route

import (
	"context"
	"net/netip"
	"time"
)

// getRoute is a variable for mocking in tests.
var getRoute = Get

// Watch polls the route to target every interval and calls regained each
// time the destination becomes routable after having been unroutable. The
// first poll only establishes the starting state. target is called on
// every poll so callers may switch destinations. Watch returns when ctx is
// done.
func Watch(ctx context.Context, interval time.Duration, target func() netip.Addr, regained func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_, err := getRoute(target())
	routable := err == nil
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_, err := getRoute(target())
		now := err == nil
		if now && !routable {
			regained()
		}
		routable = now
	}
}
