package cve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "resultsPerPage": 5,
  "vulnerabilities": [
    {"cve": {
      "id": "CVE-2024-0001",
      "published": "2024-02-10T18:15:07.153",
      "descriptions": [
        {"lang": "es", "value": "descripcion"},
        {"lang": "en", "value": "A flaw in the UniFi gateway allows remote code execution."}
      ],
      "metrics": {
        "cvssMetricV31": [{"cvssData": {"baseScore": 9.8, "baseSeverity": "CRITICAL"}}],
        "cvssMetricV2": [{"cvssData": {"baseScore": 7.5}, "baseSeverity": "HIGH"}]
      }
    }},
    {"cve": {
      "id": "CVE-2023-0002",
      "published": "2023-07-01T00:00:00Z",
      "descriptions": [{"lang": "en", "value": "Camera firmware leaks credentials."}],
      "metrics": {
        "cvssMetricV2": [{"cvssData": {"baseScore": 5.0}, "baseSeverity": "MEDIUM"}]
      }
    }},
    {"cve": {
      "id": "CVE-2022-0003",
      "published": "not-a-date",
      "descriptions": [],
      "metrics": {}
    }},
    {"cve": {"id": "CVE-2021-0004", "descriptions": [{"lang": "en", "value": "extra"}]}}
  ]
}`

func TestClient_Fetch(t *testing.T) {
	var gotKey, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k123"})
	cves, err := c.Fetch(context.Background())
	require.NoError(t, err)

	require.Equal(t, "k123", gotKey)
	require.Contains(t, gotQuery, "keywordSearch=Ubiquiti")
	require.Contains(t, gotQuery, "resultsPerPage=5")

	require.Len(t, cves, 3)

	first := cves[0]
	require.Equal(t, "CVE-2024-0001", first.ID)
	require.Equal(t, "CRITICAL", first.Severity)
	require.Equal(t, "9.8", first.ScoreText())
	require.Equal(t, "2024-02-10", first.Published)
	require.True(t, first.IsRouterRelated)
	require.True(t, strings.HasPrefix(first.Description, "A flaw in the UniFi"))

	second := cves[1]
	require.Equal(t, "MEDIUM", second.Severity)
	require.Equal(t, "5.0", second.ScoreText())
	require.Equal(t, "2023-07-01", second.Published)
	require.False(t, second.IsRouterRelated)

	third := cves[2]
	require.Equal(t, noDescription, third.Description)
	require.Equal(t, "UNKNOWN", third.Severity)
	require.Equal(t, "N/A", third.ScoreText())
	require.Equal(t, "not-a-date", third.Published)
}

func TestClient_NoAPIKeyHeader(t *testing.T) {
	var present atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["X-Api-Key"]
		present.Store(ok)
		w.Write([]byte(`{"vulnerabilities": []}`))
	}))
	defer srv.Close()

	cves, err := New(Config{BaseURL: srv.URL, APIKey: "   "}).Fetch(context.Background())
	require.NoError(t, err)
	require.Empty(t, cves)
	require.False(t, present.Load())
}

func TestClient_LatestFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})

	first, err := c.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.False(t, c.LastFetch().IsZero())

	fail.Store(true)
	second, err := c.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestClient_LatestWithoutCache(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "missing vulnerabilities",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"message": "rate limited"}`))
			},
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Latest(context.Background())
			require.ErrorIs(t, err, ErrNoData)
		})
	}
}

func TestClient_TTL(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(Config{BaseURL: srv.URL, TTL: 10 * time.Minute})
	c.now = func() time.Time { return now }

	_, err := c.Latest(context.Background())
	require.NoError(t, err)
	_, err = c.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	now = now.Add(11 * time.Minute)
	_, err = c.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestToCVE_TruncatesDescription(t *testing.T) {
	long := strings.Repeat("x", 250)
	c := toCVE(nvdCVE{ID: "CVE-1", Descriptions: []nvdDescription{{Lang: "en", Value: long}}})
	require.Len(t, c.Description, 203)
	require.True(t, strings.HasSuffix(c.Description, "..."))

	exact := toCVE(nvdCVE{Descriptions: []nvdDescription{{Lang: "en", Value: strings.Repeat("y", 200)}}})
	require.Len(t, exact.Description, 200)
	require.Equal(t, "N/A", exact.ID)
	require.Equal(t, "N/A", exact.Published)
}
