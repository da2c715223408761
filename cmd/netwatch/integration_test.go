package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/netwatch-labs/netwatch/pkg/config"
	"github.com/netwatch-labs/netwatch/pkg/dashboard"
	"github.com/netwatch-labs/netwatch/pkg/server"
	"github.com/netwatch-labs/netwatch/pkg/window"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	t.Setenv("PORT", "")
	t.Setenv("WEATHER_CITY", "")
	t.Setenv("WEATHER_STATE", "")
	t.Setenv("NETWATCH_STORAGE__BACKEND", backend)
	t.Setenv("NETWATCH_STORAGE__DATA_DIR", t.TempDir())
	t.Setenv("NETWATCH_SIMULATOR__SEED", "11")
	t.Setenv("NETWATCH_CVE__ENABLED", "false")
	t.Setenv("NETWATCH_WEATHER__ENABLED", "false")

	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

// TestE2E_HistorySurvivesRestart ticks against badger, reopens the data
// directory and checks the window is rebuilt from disk.
func TestE2E_HistorySurvivesRestart(t *testing.T) {
	cfg := testConfig(t, "badger")

	start := time.Now().Add(-10 * time.Minute).Truncate(time.Second)

	persist, err := server.InitializeStorage(cfg.Storage)
	require.NoError(t, err)

	engine := server.InitializeEngine(cfg, persist, server.InitializeStorageMonitor(cfg.Storage))
	for i := 0; i < 5; i++ {
		engine.Tick(start.Add(time.Duration(i)*time.Minute), dashboard.TriggerAuto)
	}
	before := engine.Store().Read(window.AggregateKey)
	require.Equal(t, 5, before.Len())
	require.NoError(t, persist.Close())

	persist, err = server.InitializeStorage(cfg.Storage)
	require.NoError(t, err)
	defer persist.Close()

	restarted := server.InitializeEngine(cfg, persist, nil)
	n, err := restarted.Restore(context.Background(), persist)
	require.NoError(t, err)
	require.Equal(t, 5*6, n)

	after := restarted.Store().Read(window.AggregateKey)
	require.Equal(t, before.Len(), after.Len())
	for i := range before.Timestamps {
		require.True(t, before.Timestamps[i].Equal(after.Timestamps[i]))
		require.InDelta(t, before.Download[i], after.Download[i], 1e-9)
		require.InDelta(t, before.Upload[i], after.Upload[i], 1e-9)
	}
}

// TestE2E_RefreshOverHTTP drives the wired router the way the browser does.
func TestE2E_RefreshOverHTTP(t *testing.T) {
	cfg := testConfig(t, "memory")

	persist, err := server.InitializeStorage(cfg.Storage)
	require.NoError(t, err)
	defer persist.Close()

	engine := server.InitializeEngine(cfg, persist, nil)
	retention := server.InitializeRetention()

	router := mux.NewRouter()
	server.SetupRoutes(router, server.Deps{
		Engine:    engine,
		Persist:   persist,
		Retention: retention,
		Port:      cfg.Server.Port,
		StaticDir: t.TempDir(),
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/v1/refresh", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/v1/history?device=Home+Desktop+PC")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h dashboard.History
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	require.Equal(t, "Home Desktop PC", h.Key)
	require.Len(t, h.Timestamps, 3)
	require.Len(t, h.Download, 3)
	require.Len(t, h.Upload, 3)
}
