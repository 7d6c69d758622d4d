package core

import (
	"sync"
	"time"
)

// AlertDedup remembers alerts that were already committed so a batch
// redelivered by Kafka or JetStream is not applied twice. An alert is
// identified by its ID together with source, severity and kind, so a reused
// ID carrying different content is treated as new. Entries are kept for ttl;
// the cache never grows past maxSize.
type AlertDedup struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// NewAlertDedup creates a dedup cache.
func NewAlertDedup(ttl time.Duration, maxSize int) *AlertDedup {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &AlertDedup{
		seen:    make(map[string]time.Time, maxSize/2),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func dedupKey(a Alert) string {
	return a.ID + "\x00" + a.SourceID + "\x00" + string(a.Severity) + "\x00" + string(a.Kind)
}

// Filter returns the alerts not committed within the TTL. Alerts without an
// ID always pass.
func (d *AlertDedup) Filter(alerts []Alert) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.ID != "" {
			if seenAt, ok := d.seen[dedupKey(a)]; ok && now.Sub(seenAt) < d.ttl {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// Mark records the alerts as committed.
func (d *AlertDedup) Mark(alerts []Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for _, a := range alerts {
		if a.ID != "" {
			d.seen[dedupKey(a)] = now
		}
	}
	if len(d.seen) > d.maxSize {
		d.evictLocked(now)
	}
}

func (d *AlertDedup) evictLocked(now time.Time) {
	for k, t := range d.seen {
		if now.Sub(t) >= d.ttl {
			delete(d.seen, k)
		}
	}
	// still over capacity: drop an arbitrary half
	if len(d.seen) > d.maxSize {
		target := len(d.seen) / 2
		for k := range d.seen {
			delete(d.seen, k)
			target--
			if target <= 0 {
				break
			}
		}
	}
}

// Size returns the number of remembered alerts.
func (d *AlertDedup) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
