package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradeflow/config"
	"tradeflow/models"
)

func TestFetchBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/charts/historical" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "NIFTY24SEPFUT" {
			t.Errorf("unexpected symbol %s", r.URL.Query().Get("symbol"))
		}
		if r.URL.Query().Get("resolution") != "5min" {
			t.Errorf("unexpected resolution %s", r.URL.Query().Get("resolution"))
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing auth header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"t": [1724900100, 1724900400],
			"o": [100, 102],
			"h": [103, 104],
			"l": [99, 101],
			"c": [102, 103],
			"v": [1500, 1800]
		}`))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.History = config.HistoryConfig{
		URL:               srv.URL,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 100,
		Burst:             1,
	}
	cfg.Feed.AccessToken = "token"
	cfg.Feed.ClientID = "client"

	h := NewHistory(cfg)
	bars, err := h.FetchBars(context.Background(), "NIFTY24SEPFUT", models.Timeframe5Min,
		time.Unix(1724900000, 0), time.Unix(1724910000, 0))
	if err != nil {
		t.Fatalf("FetchBars failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	first := bars[0]
	if first.Open != 100 || first.High != 103 || first.Low != 99 || first.Close != 102 || first.Volume != 1500 {
		t.Errorf("unexpected first bar: %+v", first)
	}
	if first.Symbol != "NIFTY24SEPFUT" || first.Timeframe != models.Timeframe5Min {
		t.Errorf("bar missing identity fields: %+v", first)
	}
	if !first.Start.Equal(time.Unix(1724900100, 0)) {
		t.Errorf("unexpected bar start: %v", first.Start)
	}
}

func TestFetchBarsInconsistentArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"t":[1,2],"o":[100],"h":[103],"l":[99],"c":[102],"v":[1500]}`))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.History = config.HistoryConfig{URL: srv.URL, Timeout: 5 * time.Second, RequestsPerSecond: 100, Burst: 1}

	h := NewHistory(cfg)
	if _, err := h.FetchBars(context.Background(), "NIFTY", models.Timeframe1Min, time.Unix(0, 0), time.Unix(1, 0)); err == nil {
		t.Fatal("expected error for inconsistent arrays")
	}
}

func TestFetchBarsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.History = config.HistoryConfig{URL: srv.URL, Timeout: 5 * time.Second, RequestsPerSecond: 100, Burst: 1}

	h := NewHistory(cfg)
	if _, err := h.FetchBars(context.Background(), "NIFTY", models.Timeframe1Min, time.Unix(0, 0), time.Unix(1, 0)); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
