// Package simulator fabricates the device telemetry, connection map and
// security alerts the dashboard displays. Nothing here touches a real
// network.
package simulator

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netwatch-labs/netwatch/pkg/alerts"
	"github.com/netwatch-labs/netwatch/pkg/window"
)

const (
	flipProbability  = 0.1
	alertProbability = 0.2
	minConnections   = 10
	maxConnections   = 20
	maxAlertsPerPoll = 3
)

// Generator holds the simulated network state. Every Poll advances it by
// one tick.
//
// Generator is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	devices  []Device
	lastPoll time.Time

	// fallbackElapsed is used for the first poll, when there is no
	// previous one to measure against.
	fallbackElapsed time.Duration
}

// New creates a generator for the default device inventory. A nil rng is
// seeded from the clock.
func New(rng *rand.Rand) *Generator {
	g, err := NewWithDevices(rng, DefaultDevices())
	if err != nil {
		// DefaultDevices is static and always valid.
		panic(err)
	}
	return g
}

// NewWithDevices creates a generator for a custom inventory. Device names
// must be unique and must not start with ReservedPrefix.
func NewWithDevices(rng *rand.Rand, devices []Device) (*Generator, error) {
	if err := validateDevices(devices); err != nil {
		return nil, fmt.Errorf("invalid device inventory: %w", err)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	ds := make([]Device, len(devices))
	copy(ds, devices)
	for i := range ds {
		if ds[i].MAC == "" {
			ds[i].MAC = randomMAC(rng)
		}
	}

	return &Generator{
		rng:             rng,
		devices:         ds,
		fallbackElapsed: time.Second,
	}, nil
}

// Poll advances the simulation to now and returns every device's current
// throughput keyed by device name. OFFLINE devices report a zero rate.
func (g *Generator) Poll(now time.Time) map[string]window.Rate {
	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := g.fallbackElapsed
	if !g.lastPoll.IsZero() && now.After(g.lastPoll) {
		elapsed = now.Sub(g.lastPoll)
	}
	g.lastPoll = now

	rates := make(map[string]window.Rate, len(g.devices))
	for i := range g.devices {
		d := &g.devices[i]

		if d.Flaky && g.rng.Float64() < flipProbability {
			if d.Status == StatusOnline {
				d.Status = StatusOffline
			} else {
				d.Status = StatusOnline
				d.LastSeen = now
			}
		}

		d.CurrentDownload, d.CurrentUpload = 0, 0
		if d.Status == StatusOnline {
			upRange, downRange := trafficProfile(d.Type)
			up := upRange.draw(g.rng)
			down := downRange.draw(g.rng)

			d.UploadBytes += up
			d.DownloadBytes += down
			d.CurrentUpload = mbps(up, elapsed)
			d.CurrentDownload = mbps(down, elapsed)
			d.LastSeen = now
		}

		rates[d.Name] = window.Rate{Download: d.CurrentDownload, Upload: d.CurrentUpload}
	}
	return rates
}

// Devices returns a copy of the current device table.
func (g *Generator) Devices() []Device {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Device, len(g.devices))
	copy(out, g.devices)
	return out
}

// DeviceNames returns the device names in inventory order.
func (g *Generator) DeviceNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, len(g.devices))
	for i, d := range g.devices {
		names[i] = d.Name
	}
	return names
}

// Connection is one point on the external connection map.
type Connection struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Region string  `json:"region"`
}

type region struct {
	name     string
	weight   float64
	lat, lon float64
	latLo    float64
	latHi    float64
	lonLo    float64
	lonHi    float64
}

// Regions are picked by cumulative weight: US 50%, China 10%, Russia 10%, EU 30%.
var regions = []region{
	{name: "US", weight: 0.5, lat: 37, lon: -95, latLo: -10, latHi: 10, lonLo: -20, lonHi: 20},
	{name: "CN", weight: 0.1, lat: 35, lon: 104, latLo: -5, latHi: 5, lonLo: -10, lonHi: 10},
	{name: "RU", weight: 0.1, lat: 61, lon: 105, latLo: -10, latHi: 10, lonLo: -20, lonHi: 20},
	{name: "EU", weight: 0.3, lat: 50, lon: 10, latLo: -5, latHi: 10, lonLo: -10, lonHi: 20},
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// Connections returns a fresh set of 10 to 20 external connection points.
func (g *Generator) Connections() []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := minConnections + g.rng.Intn(maxConnections-minConnections+1)
	out := make([]Connection, 0, n)
	for i := 0; i < n; i++ {
		r := g.pickRegion(g.rng.Float64())
		out = append(out, Connection{
			Lat:    r.lat + g.uniform(r.latLo, r.latHi),
			Lon:    r.lon + g.uniform(r.lonLo, r.lonHi),
			Region: r.name,
		})
	}
	return out
}

func (g *Generator) pickRegion(p float64) region {
	acc := 0.0
	for _, r := range regions {
		acc += r.weight
		if p < acc {
			return r
		}
	}
	return regions[len(regions)-1]
}

var alertReasons = []string{
	"Port scan detected",
	"Repeated failed SSH logins",
	"Outbound connection to known botnet host",
	"DNS query to newly registered domain",
	"Unusual upload volume",
	"Telnet access attempt",
	"Malware signature match in download",
}

var severities = []alerts.Severity{
	alerts.SeverityHigh,
	alerts.SeverityMedium,
	alerts.SeverityLow,
}

// Alerts rolls for new security alerts. Most polls produce none.
func (g *Generator) Alerts(now time.Time) []alerts.Alert {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rng.Float64() >= alertProbability {
		return nil
	}

	n := 1 + g.rng.Intn(maxAlertsPerPoll)
	out := make([]alerts.Alert, 0, n)
	for i := 0; i < n; i++ {
		d := g.devices[g.rng.Intn(len(g.devices))]
		out = append(out, alerts.Alert{
			ID:         uuid.New().String(),
			Timestamp:  now,
			Device:     d.Name,
			ExternalIP: g.externalIP(),
			Reason:     alertReasons[g.rng.Intn(len(alertReasons))],
			Severity:   severities[g.rng.Intn(len(severities))],
		})
	}
	return out
}

func (g *Generator) externalIP() string {
	// First octet avoids 0, 10, 127 and the 224+ multicast/reserved space.
	first := 1 + g.rng.Intn(222)
	for first == 10 || first == 127 {
		first = 1 + g.rng.Intn(222)
	}
	return fmt.Sprintf("%d.%d.%d.%d", first, g.rng.Intn(256), g.rng.Intn(256), 1+g.rng.Intn(254))
}
