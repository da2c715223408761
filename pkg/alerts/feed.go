// Package alerts keeps the security alert feed shown on the dashboard.
package alerts

import (
	"sync"
	"time"
)

// DefaultMaxAlerts bounds the feed length.
const DefaultMaxAlerts = 50

// Severity of a security alert.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// Alert is a single (simulated) security event tied to a device.
type Alert struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Device     string    `json:"device"`
	ExternalIP string    `json:"external_ip"`
	Reason     string    `json:"reason"`
	Severity   Severity  `json:"severity"`
}

// Feed is a bounded, newest-first list of alerts.
//
// Feed is safe for concurrent use.
type Feed struct {
	mu    sync.RWMutex
	max   int
	items []Alert
}

// NewFeed creates a feed holding at most max alerts.
// A non-positive max uses DefaultMaxAlerts.
func NewFeed(max int) *Feed {
	if max <= 0 {
		max = DefaultMaxAlerts
	}
	return &Feed{
		max:   max,
		items: make([]Alert, 0, max),
	}
}

// Push places the new alerts ahead of the existing ones, in the order
// given, and drops the oldest entries beyond the cap.
func (f *Feed) Push(newAlerts ...Alert) {
	if len(newAlerts) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	merged := make([]Alert, 0, len(newAlerts)+len(f.items))
	merged = append(merged, newAlerts...)
	merged = append(merged, f.items...)
	if len(merged) > f.max {
		merged = merged[:f.max]
	}
	f.items = merged
}

// List returns a copy of the feed. A non-empty device restricts the result
// to alerts raised for that device.
func (f *Feed) List(device string) []Alert {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Alert, 0, len(f.items))
	for _, a := range f.items {
		if device != "" && a.Device != device {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Len returns the number of alerts held.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}
