package simulator

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Status is a device's connectivity state.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// Device types understood by the traffic model.
const (
	TypeRouter  = "Router"
	TypeDesktop = "Desktop"
	TypeMobile  = "Mobile"
	TypePrinter = "Printer"
)

// Device is one simulated host on the home network.
type Device struct {
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	IP            string    `json:"ip"`
	MAC           string    `json:"mac"`
	Status        Status    `json:"status"`
	UploadBytes   uint64    `json:"upload_bytes"`
	DownloadBytes uint64    `json:"download_bytes"`
	LastSeen      time.Time `json:"last_seen"`

	// Current throughput in Mbps, computed from the bytes added on the last poll.
	CurrentDownload float64 `json:"current_download_mbps"`
	CurrentUpload   float64 `json:"current_upload_mbps"`

	// Flaky devices toggle between ONLINE and OFFLINE at random.
	Flaky bool `json:"-"`
}

// DefaultDevices returns the fixed home network inventory.
// MAC addresses are left empty and assigned by New.
func DefaultDevices() []Device {
	return []Device{
		{Name: "Ubiquiti Dream Machine", Type: TypeRouter, IP: "192.168.1.1", Status: StatusOnline},
		{Name: "Home Desktop PC", Type: TypeDesktop, IP: "192.168.1.15", Status: StatusOnline},
		{Name: "User iPhone", Type: TypeMobile, IP: "192.168.1.22", Status: StatusOnline},
		{Name: "Home Printer", Type: TypePrinter, IP: "192.168.1.50", Status: StatusOffline, Flaky: true},
		{Name: "Guest Android", Type: TypeMobile, IP: "192.168.1.23", Status: StatusOnline, Flaky: true},
	}
}

// ReservedPrefix marks keys used internally by the window store.
const ReservedPrefix = "__"

func validateDevices(devices []Device) error {
	if len(devices) == 0 {
		return fmt.Errorf("no devices configured")
	}

	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.Name == "" {
			return fmt.Errorf("device with IP %q has no name", d.IP)
		}
		if strings.HasPrefix(d.Name, ReservedPrefix) {
			return fmt.Errorf("device name %q uses reserved prefix %q", d.Name, ReservedPrefix)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// byteRange is an inclusive [min, max] number of bytes added per poll.
type byteRange struct {
	min, max int64
}

func (r byteRange) draw(rng *rand.Rand) uint64 {
	return uint64(r.min + rng.Int63n(r.max-r.min+1))
}

// trafficProfile returns the upload and download ranges for a device type.
func trafficProfile(deviceType string) (up, down byteRange) {
	switch deviceType {
	case TypeRouter:
		return byteRange{1000, 5_000_000}, byteRange{5000, 10_000_000}
	case TypePrinter:
		return byteRange{0, 1000}, byteRange{0, 1000}
	default:
		return byteRange{100, 1_000_000}, byteRange{500, 5_000_000}
	}
}

func randomMAC(rng *rand.Rand) string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = byte(rng.Intn(256))
	}
	// Locally administered, unicast.
	b[0] = (b[0] | 0x02) &^ 0x01
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

// BytesToMB converts a byte count to binary megabytes.
func BytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}

// mbps converts bytes transferred over elapsed into megabits per second.
func mbps(bytes uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1e6 / elapsed.Seconds()
}
