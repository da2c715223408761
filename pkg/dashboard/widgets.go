package dashboard

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/netwatch-labs/netwatch/pkg/cve"
	"github.com/netwatch-labs/netwatch/pkg/telemetry"
	"github.com/netwatch-labs/netwatch/pkg/weather"
)

// ErrWidgetDisabled is returned for a widget whose client is not configured.
var ErrWidgetDisabled = errors.New("widget disabled")

type widgetState struct {
	mu         sync.RWMutex
	cves       []cve.CVE
	cveErr     error
	conditions *weather.Conditions
	weatherErr error
}

// CVEs returns the latest vulnerabilities. The client caches results for
// its TTL, so calling this per request does not hit NVD every time.
func (e *Engine) CVEs(ctx context.Context) ([]cve.CVE, error) {
	if e.cve == nil {
		return nil, ErrWidgetDisabled
	}
	items, err := e.cve.Latest(ctx)
	e.recordCVEs(items, err)
	return items, err
}

// Weather returns current conditions at the configured location.
func (e *Engine) Weather(ctx context.Context) (*weather.Conditions, error) {
	if e.weather == nil {
		return nil, ErrWidgetDisabled
	}
	cond, err := e.weather.Current(ctx)
	e.recordWeather(cond, err)
	return cond, err
}

// RefreshWidgets fetches both widgets concurrently. It returns the first
// error, but a failing widget never prevents the other from refreshing.
func (e *Engine) RefreshWidgets(ctx context.Context) error {
	var g errgroup.Group

	if e.cve != nil {
		g.Go(func() error {
			_, err := e.CVEs(ctx)
			return err
		})
	}
	if e.weather != nil {
		g.Go(func() error {
			_, err := e.Weather(ctx)
			return err
		})
	}
	return g.Wait()
}

func (e *Engine) recordCVEs(items []cve.CVE, err error) {
	telemetry.WidgetFetches.WithLabelValues("cve", result(err)).Inc()

	e.widgets.mu.Lock()
	defer e.widgets.mu.Unlock()
	e.widgets.cveErr = err
	if err == nil {
		e.widgets.cves = items
	}
}

func (e *Engine) recordWeather(cond *weather.Conditions, err error) {
	telemetry.WidgetFetches.WithLabelValues("weather", result(err)).Inc()

	e.widgets.mu.Lock()
	defer e.widgets.mu.Unlock()
	e.widgets.weatherErr = err
	if err == nil {
		e.widgets.conditions = cond
	} else if !errors.Is(err, weather.ErrNoAPIKey) {
		log.Printf("Weather widget unavailable: %v", err)
	}
}

// WidgetStatus reports the outcome of the most recent widget fetches.
type WidgetStatus struct {
	CVECount     int    `json:"cve_count"`
	CVEError     string `json:"cve_error,omitempty"`
	HasWeather   bool   `json:"has_weather"`
	WeatherError string `json:"weather_error,omitempty"`
}

// Widgets returns the last recorded widget outcomes.
func (e *Engine) Widgets() WidgetStatus {
	e.widgets.mu.RLock()
	defer e.widgets.mu.RUnlock()

	st := WidgetStatus{
		CVECount:   len(e.widgets.cves),
		HasWeather: e.widgets.conditions != nil,
	}
	if e.widgets.cveErr != nil {
		st.CVEError = e.widgets.cveErr.Error()
	}
	if e.widgets.weatherErr != nil {
		st.WeatherError = e.widgets.weatherErr.Error()
	}
	return st
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
