package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultHost         = "0.0.0.0"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultDataDir      = "./data/netwatch"
	ShutdownTimeout     = 10 * time.Second
	TaskShutdownTimeout = 5 * time.Second
)

// Rolling window and refresh loop
const (
	DefaultHorizon         = 30 * time.Minute
	DefaultRefreshInterval = 1 * time.Second
	MinRefreshInterval     = 1 * time.Second
	MaxRefreshInterval     = 10 * time.Second
)

// Background task intervals
const (
	RetentionInterval         = 1 * time.Hour
	BadgerGCInterval          = 10 * time.Minute
	DefaultPersistedRetention = 24 * time.Hour
	RestoreTimeout            = 30 * time.Second
	PersistTimeout            = 2 * time.Second
)

// External widget defaults
const (
	DefaultNVDURL         = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	DefaultCVEKeyword     = "Ubiquiti"
	DefaultCVEMaxResults  = 3
	DefaultAccuWeatherURL = "http://dataservice.accuweather.com"
	DefaultWeatherCity    = "Hays"
	DefaultWeatherState   = "KS"
	DefaultFetchTimeout   = 10 * time.Second
	DefaultWidgetTTL      = 10 * time.Minute
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// ClampRefreshInterval bounds d to [MinRefreshInterval, MaxRefreshInterval].
func ClampRefreshInterval(d time.Duration) time.Duration {
	if d < MinRefreshInterval {
		return MinRefreshInterval
	}
	if d > MaxRefreshInterval {
		return MaxRefreshInterval
	}
	return d
}
