package dashboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/netwatch-labs/netwatch/pkg/alerts"
	"github.com/netwatch-labs/netwatch/pkg/simulator"
	"github.com/netwatch-labs/netwatch/pkg/window"
)

// AllDevices selects the whole-network view.
const AllDevices = "All Devices"

// ErrUnknownDevice is returned when a snapshot is requested for a device
// that is not in the inventory.
var ErrUnknownDevice = errors.New("unknown device")

// DeviceRow is one line of the device table.
type DeviceRow struct {
	Name                string           `json:"name"`
	Type                string           `json:"type"`
	IP                  string           `json:"ip"`
	MAC                 string           `json:"mac"`
	Status              simulator.Status `json:"status"`
	DownloadMB          float64          `json:"download_mb"`
	UploadMB            float64          `json:"upload_mb"`
	CurrentDownloadMbps float64          `json:"current_download_mbps"`
	CurrentUploadMbps   float64          `json:"current_upload_mbps"`
	LastSeen            time.Time        `json:"last_seen"`
}

// Summary holds the headline numbers above the charts.
type Summary struct {
	OnlineDevices       int     `json:"online_devices"`
	TotalDevices        int     `json:"total_devices"`
	TotalDownloadMB     float64 `json:"total_download_mb"`
	TotalUploadMB       float64 `json:"total_upload_mb"`
	CurrentDownloadMbps float64 `json:"current_download_mbps"`
	CurrentUploadMbps   float64 `json:"current_upload_mbps"`
}

// History is the throughput chart data.
type History struct {
	// Key is the window key the series came from: a device name or
	// window.AggregateKey.
	Key        string      `json:"key"`
	Timestamps []time.Time `json:"timestamps"`
	Download   []float64   `json:"download"`
	Upload     []float64   `json:"upload"`
	Collecting bool        `json:"collecting"`
}

// Snapshot is everything the dashboard renders for one selection.
type Snapshot struct {
	Type        string                 `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	Tick        uint64                 `json:"tick"`
	Device      string                 `json:"device"`
	Devices     []DeviceRow            `json:"devices"`
	Summary     Summary                `json:"summary"`
	History     History                `json:"history"`
	Connections []simulator.Connection `json:"connections,omitempty"`
	Alerts      []alerts.Alert         `json:"alerts"`
	AutoRefresh AutoRefreshState       `json:"auto_refresh"`
}

func isAll(device string) bool {
	return device == "" || device == AllDevices
}

// Snapshot builds the view for device. "" and AllDevices select the whole
// network.
func (e *Engine) Snapshot(device string) (Snapshot, error) {
	if err := e.Knows(device); err != nil {
		return Snapshot{}, err
	}
	if isAll(device) {
		device = AllDevices
	}
	return e.build(device), nil
}

// Knows returns ErrUnknownDevice unless device is in the inventory or
// selects all devices.
func (e *Engine) Knows(device string) error {
	if isAll(device) {
		return nil
	}
	for _, name := range e.source.DeviceNames() {
		if name == device {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
}

func (e *Engine) build(device string) Snapshot {
	all := isAll(device)

	rows := e.deviceRows(device)

	e.mu.RLock()
	snap := Snapshot{
		Type:      "snapshot",
		Timestamp: e.lastTick,
		Tick:      e.ticks,
		Device:    device,
	}
	if all {
		snap.Connections = append([]simulator.Connection(nil), e.connections...)
	}
	e.mu.RUnlock()

	snap.Devices = rows
	snap.Summary = summarize(rows)
	snap.History = e.History(device)
	snap.AutoRefresh = e.AutoRefresh()

	if all {
		snap.Alerts = e.feed.List("")
	} else {
		snap.Alerts = e.feed.List(device)
	}
	return snap
}

// Devices returns the device table for device ("" for all).
func (e *Engine) Devices(device string) []DeviceRow {
	return e.deviceRows(device)
}

func (e *Engine) deviceRows(device string) []DeviceRow {
	all := isAll(device)

	var rows []DeviceRow
	for _, d := range e.source.Devices() {
		if !all && d.Name != device {
			continue
		}
		rows = append(rows, DeviceRow{
			Name:                d.Name,
			Type:                d.Type,
			IP:                  d.IP,
			MAC:                 d.MAC,
			Status:              d.Status,
			DownloadMB:          simulator.BytesToMB(d.DownloadBytes),
			UploadMB:            simulator.BytesToMB(d.UploadBytes),
			CurrentDownloadMbps: d.CurrentDownload,
			CurrentUploadMbps:   d.CurrentUpload,
			LastSeen:            d.LastSeen,
		})
	}
	if rows == nil {
		rows = []DeviceRow{}
	}
	return rows
}

func summarize(rows []DeviceRow) Summary {
	s := Summary{TotalDevices: len(rows)}
	for _, r := range rows {
		if r.Status == simulator.StatusOnline {
			s.OnlineDevices++
		}
		s.TotalDownloadMB += r.DownloadMB
		s.TotalUploadMB += r.UploadMB
		s.CurrentDownloadMbps += r.CurrentDownloadMbps
		s.CurrentUploadMbps += r.CurrentUploadMbps
	}
	return s
}

// Summary returns the headline numbers for device ("" for all).
func (e *Engine) Summary(device string) Summary {
	return summarize(e.deviceRows(device))
}

// History returns the chart series for device. A device with no samples in
// the window falls back to the aggregate series, like the all-devices view.
func (e *Engine) History(device string) History {
	key := window.AggregateKey
	if !isAll(device) && e.store.Has(device) {
		key = device
	}

	s := e.store.Read(key)
	return History{
		Key:        key,
		Timestamps: s.Timestamps,
		Download:   s.Download,
		Upload:     s.Upload,
		Collecting: s.Empty(),
	}
}

// Connections returns the external connection points from the last tick.
func (e *Engine) Connections() []simulator.Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]simulator.Connection, len(e.connections))
	copy(out, e.connections)
	return out
}

// Alerts returns the alert feed, newest first, optionally for one device.
func (e *Engine) Alerts(device string) []alerts.Alert {
	if isAll(device) {
		device = ""
	}
	return e.feed.List(device)
}
