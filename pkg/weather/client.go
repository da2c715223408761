// Package weather fetches current conditions for the dashboard header from
// the AccuWeather API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoAPIKey is returned when no AccuWeather key is configured.
	ErrNoAPIKey = errors.New("weather API key not configured")

	// ErrNoData is returned when a fetch fails and nothing was cached before.
	ErrNoData = errors.New("no weather data available")

	// ErrLocationNotFound means the city search returned no match.
	ErrLocationNotFound = errors.New("location not found")
)

// Conditions is the current weather at the configured location.
type Conditions struct {
	Temperature   float64   `json:"temperature"`
	Unit          string    `json:"unit"`
	WeatherText   string    `json:"weather_text"`
	Humidity      *int      `json:"humidity"`
	WindSpeed     float64   `json:"wind_speed"`
	WindUnit      string    `json:"wind_unit"`
	WindDirection string    `json:"wind_direction"`
	City          string    `json:"city"`
	Icon          int       `json:"icon"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	City    string
	State   string
	Timeout time.Duration
	TTL     time.Duration
}

// Client resolves the location once and then polls current conditions.
type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	locationKey string
	cached      *Conditions
	lastFetch   time.Time
}

// New creates a Client. Zero fields fall back to AccuWeather defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://dataservice.accuweather.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.City == "" {
		cfg.City = "Hays"
	}
	if cfg.State == "" {
		cfg.State = "KS"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

// Location is the "City, ST" label the client queries.
func (c *Client) Location() string {
	return c.cfg.City + ", " + c.cfg.State
}

// Current returns current conditions, reusing a result younger than TTL.
// When the upstream call fails the last good result is returned; ErrNoData
// wraps the failure when there is none.
func (c *Client) Current(ctx context.Context) (*Conditions, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	c.mu.Lock()
	if c.cached != nil && c.cfg.TTL > 0 && c.now().Sub(c.lastFetch) < c.cfg.TTL {
		out := *c.cached
		c.mu.Unlock()
		return &out, nil
	}
	c.mu.Unlock()

	cond, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		log.Printf("Error fetching weather data: %v", err)
		if c.cached != nil {
			out := *c.cached
			return &out, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}

	c.cached = cond
	c.lastFetch = c.now()
	out := *cond
	return &out, nil
}

func (c *Client) fetch(ctx context.Context) (*Conditions, error) {
	key, err := c.resolveLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve location: %w", err)
	}

	q := url.Values{}
	q.Set("apikey", c.cfg.APIKey)
	q.Set("details", "true")

	var body []accuConditions
	if err := c.getJSON(ctx, "/currentconditions/v1/"+url.PathEscape(key), q, &body); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty current conditions response")
	}

	cur := body[0]
	return &Conditions{
		Temperature:   cur.Temperature.Imperial.Value,
		Unit:          cur.Temperature.Imperial.Unit,
		WeatherText:   cur.WeatherText,
		Humidity:      cur.RelativeHumidity,
		WindSpeed:     cur.Wind.Speed.Imperial.Value,
		WindUnit:      cur.Wind.Speed.Imperial.Unit,
		WindDirection: cur.Wind.Direction.English,
		City:          c.Location(),
		Icon:          cur.icon(),
		ObservedAt:    c.now(),
	}, nil
}

// resolveLocation returns the cached location key or looks it up.
func (c *Client) resolveLocation(ctx context.Context) (string, error) {
	c.mu.Lock()
	key := c.locationKey
	c.mu.Unlock()
	if key != "" {
		return key, nil
	}

	q := url.Values{}
	q.Set("apikey", c.cfg.APIKey)
	q.Set("q", c.Location())

	var body []struct {
		Key string `json:"Key"`
	}
	if err := c.getJSON(ctx, "/locations/v1/cities/US/search", q, &body); err != nil {
		return "", err
	}
	if len(body) == 0 || body[0].Key == "" {
		return "", fmt.Errorf("%w: %s", ErrLocationNotFound, c.Location())
	}

	c.mu.Lock()
	c.locationKey = body[0].Key
	c.mu.Unlock()
	return body[0].Key, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type measurement struct {
	Value float64 `json:"Value"`
	Unit  string  `json:"Unit"`
}

type accuConditions struct {
	WeatherText      string `json:"WeatherText"`
	WeatherIcon      *int   `json:"WeatherIcon"`
	RelativeHumidity *int   `json:"RelativeHumidity"`
	Temperature      struct {
		Imperial measurement `json:"Imperial"`
	} `json:"Temperature"`
	Wind struct {
		Direction struct {
			English string `json:"English"`
		} `json:"Direction"`
		Speed struct {
			Imperial measurement `json:"Imperial"`
		} `json:"Speed"`
	} `json:"Wind"`
}

// icon defaults to 1 (sunny) when the API omits it.
func (a accuConditions) icon() int {
	if a.WeatherIcon == nil {
		return 1
	}
	return *a.WeatherIcon
}
