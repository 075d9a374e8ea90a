// Package ptr caches reverse DNS names for the peers that send datagrams
// back to us.
package ptr

import (
	"net"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultTTL      = 10 * time.Minute
	defaultCapacity = 1024
)

// PtrManager handles PTR lookups with expiring, bounded caching. It is safe
// for concurrent use.
type PtrManager struct {
	cache      *ttlcache.Cache[string, string]
	lookupFunc func(ip string) ([]string, error)
	retries    int
	retryDelay time.Duration
}

// NewPtrManager creates a new PtrManager
func NewPtrManager() *PtrManager {
	return &PtrManager{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, string](defaultTTL),
			ttlcache.WithCapacity[string, string](defaultCapacity),
		),
		lookupFunc: net.LookupAddr,
		retries:    3,
		retryDelay: 100 * time.Millisecond,
	}
}

// RequestPTR performs a PTR lookup for ip unless one is cached or already
// in progress. It blocks for the duration of the lookup.
func (pm *PtrManager) RequestPTR(ip string) {
	// An empty value marks the lookup as in progress
	if _, found := pm.cache.GetOrSet(ip, ""); found {
		return
	}
	for attempt := range pm.retries {
		names, err := pm.lookupFunc(ip)
		if err == nil && len(names) > 0 {
			pm.cache.Set(ip, normalizePTR(names[0]), ttlcache.DefaultTTL)
			return
		}
		if attempt < pm.retries-1 {
			time.Sleep(pm.retryDelay)
		}
	}
}

// GetPTR retrieves the cached PTR result for the given IP address
// Returns the PTR and a boolean indicating if it was found
func (pm *PtrManager) GetPTR(ip string) (string, bool) {
	item := pm.cache.Get(ip, ttlcache.WithDisableTouchOnHit[string, string]())
	if item == nil || item.Value() == "" {
		return "", false
	}
	return item.Value(), true
}

// Lookup returns the cached name for ip, scheduling a background lookup
// when none is cached yet.
func (pm *PtrManager) Lookup(ip string) string {
	if name, ok := pm.GetPTR(ip); ok {
		return name
	}
	go pm.RequestPTR(ip)
	return ""
}

func normalizePTR(name string) string {
	return strings.TrimSuffix(name, ".")
}
