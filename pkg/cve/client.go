// Package cve fetches recent vulnerabilities for the router vendor from the
// NVD CVE API 2.0.
package cve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNoData is returned when a fetch fails and nothing was cached before.
var ErrNoData = errors.New("no CVE data available")

const (
	resultsPerPage    = 5
	maxDescriptionLen = 200
	noDescription     = "No description available"
)

var routerKeywords = []string{"router", "unifi", "usg", "udm", "network", "gateway"}

// CVE is the dashboard view of one vulnerability.
type CVE struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	Severity        string   `json:"severity"`
	CVSSScore       *float64 `json:"cvss_score"`
	Published       string   `json:"published"`
	IsRouterRelated bool     `json:"is_router_related"`
}

// ScoreText formats the CVSS score, or "N/A" when the entry has none.
func (c CVE) ScoreText() string {
	if c.CVSSScore == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*c.CVSSScore, 'f', 1, 64)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Keyword    string
	APIKey     string // optional; raises the NVD rate limit
	MaxResults int
	Timeout    time.Duration
	TTL        time.Duration // how long a successful fetch is reused
}

// Client queries NVD and keeps the last good result.
type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	cached    []CVE
	lastFetch time.Time
}

// New creates a Client. Zero fields fall back to NVD defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	}
	if cfg.Keyword == "" {
		cfg.Keyword = "Ubiquiti"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
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

// Latest returns up to MaxResults CVEs. A result younger than TTL is served
// from cache. When the upstream call fails the last good result is
// returned instead; ErrNoData is returned if there is none.
func (c *Client) Latest(ctx context.Context) ([]CVE, error) {
	c.mu.Lock()
	if c.cached != nil && c.cfg.TTL > 0 && c.now().Sub(c.lastFetch) < c.cfg.TTL {
		out := copyCVEs(c.cached)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	cves, err := c.Fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		log.Printf("Error fetching CVE data: %v", err)
		if c.cached != nil {
			return copyCVEs(c.cached), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}

	c.cached = cves
	c.lastFetch = c.now()
	return copyCVEs(cves), nil
}

// LastFetch reports when the cache was last refreshed successfully.
func (c *Client) LastFetch() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFetch
}

// Fetch performs one upstream request with no caching.
func (c *Client) Fetch(ctx context.Context) ([]CVE, error) {
	q := url.Values{}
	q.Set("keywordSearch", c.cfg.Keyword)
	q.Set("resultsPerPage", strconv.Itoa(resultsPerPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var body nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Vulnerabilities == nil {
		return nil, errors.New("response has no vulnerabilities field")
	}

	return c.convert(*body.Vulnerabilities), nil
}

func (c *Client) convert(vulns []nvdVulnerability) []CVE {
	limit := c.cfg.MaxResults * 3
	if len(vulns) > limit {
		vulns = vulns[:limit]
	}

	out := make([]CVE, 0, c.cfg.MaxResults)
	for _, v := range vulns {
		out = append(out, toCVE(v.CVE))
		if len(out) >= c.cfg.MaxResults {
			break
		}
	}
	return out
}

func toCVE(item nvdCVE) CVE {
	id := item.ID
	if id == "" {
		id = "N/A"
	}

	description := noDescription
	for _, d := range item.Descriptions {
		if d.Lang == "en" {
			if d.Value != "" {
				description = d.Value
			}
			break
		}
	}

	lower := strings.ToLower(description)
	related := false
	for _, kw := range routerKeywords {
		if strings.Contains(lower, kw) {
			related = true
			break
		}
	}

	score, severity := item.Metrics.primary()

	if len([]rune(description)) > maxDescriptionLen {
		description = string([]rune(description)[:maxDescriptionLen]) + "..."
	}

	return CVE{
		ID:              id,
		Description:     description,
		Severity:        severity,
		CVSSScore:       score,
		Published:       formatPublished(item.Published),
		IsRouterRelated: related,
	}
}

var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

func formatPublished(s string) string {
	if s == "" {
		return "N/A"
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

func copyCVEs(in []CVE) []CVE {
	out := make([]CVE, len(in))
	copy(out, in)
	return out
}

type nvdResponse struct {
	Vulnerabilities *[]nvdVulnerability `json:"vulnerabilities"`
}

type nvdVulnerability struct {
	CVE nvdCVE `json:"cve"`
}

type nvdCVE struct {
	ID           string           `json:"id"`
	Published    string           `json:"published"`
	Descriptions []nvdDescription `json:"descriptions"`
	Metrics      nvdMetrics       `json:"metrics"`
}

type nvdDescription struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type nvdMetrics struct {
	V31 []nvdMetric `json:"cvssMetricV31"`
	V30 []nvdMetric `json:"cvssMetricV30"`
	V2  []nvdMetric `json:"cvssMetricV2"`
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore    *float64 `json:"baseScore"`
		BaseSeverity string   `json:"baseSeverity"`
	} `json:"cvssData"`
	// CVSS v2 reports severity beside cvssData.
	BaseSeverity string `json:"baseSeverity"`
}

// primary picks score and severity from the newest CVSS version present.
func (m nvdMetrics) primary() (*float64, string) {
	for _, metrics := range [][]nvdMetric{m.V31, m.V30, m.V2} {
		if len(metrics) == 0 {
			continue
		}
		data := metrics[0]
		severity := data.CVSSData.BaseSeverity
		if severity == "" {
			severity = data.BaseSeverity
		}
		if severity == "" {
			severity = "UNKNOWN"
		}
		return data.CVSSData.BaseScore, severity
	}
	return nil, "UNKNOWN"
}
