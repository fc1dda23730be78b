package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/weather-measurements/internal/weather"
)

func fetchRequest() weather.FetchRequest {
	return weather.FetchRequest{
		Station:   "tiefenbrunnen",
		StartDate: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
		Sort:      "timestamp_cet desc",
		Limit:     100,
		Offset:    0,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*TecdottirClient, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := NewTecdottirClient(&http.Client{Timeout: 2 * time.Second}, srv.URL+"/", slog.New(slog.DiscardHandler))
	return client, &hits
}

func TestFetch_BuildsRequestAndDecodes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/measurements/tiefenbrunnen" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		for key, want := range map[string]string{
			"startDate": "2025-03-05",
			"endDate":   "2025-03-08",
			"sort":      "timestamp_cet desc",
			"limit":     "100",
			"offset":    "0",
		} {
			if got := q.Get(key); got != want {
				t.Errorf("query %s = %q, want %q", key, got, want)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "message": null, "total_count": 1, "row_count": 1, "result": [{
			"station": "tiefenbrunnen",
			"timestamp": "2025-03-07T23:50:00.000Z",
			"values": {"air_temperature": {"value": 6.3, "unit": "°C", "status": "ok"}}
		}]}`))
	})

	resp, err := client.Fetch(context.Background(), fetchRequest())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !resp.OK || len(resp.Result) != 1 || resp.Result[0].Values["air_temperature"].Value.Number != 6.3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFetch_FailuresYieldNoData(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ok": tru`))
			},
		},
		{
			name: "ok false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ok": false, "message": "invalid station", "result": []}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, hits := newTestClient(t, tt.handler)

			resp, err := client.Fetch(context.Background(), fetchRequest())
			if resp != nil {
				t.Fatalf("expected no response, got %+v", resp)
			}
			if !errors.Is(err, weather.ErrNoData) {
				t.Fatalf("error = %v, want ErrNoData", err)
			}
			if got := atomic.LoadInt32(hits); got != 1 {
				t.Fatalf("upstream hit %d times, want exactly 1 (no retries)", got)
			}
		})
	}
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewTecdottirClient(&http.Client{Timeout: time.Second}, url, slog.New(slog.DiscardHandler))
	if _, err := client.Fetch(context.Background(), fetchRequest()); !errors.Is(err, weather.ErrNoData) {
		t.Fatalf("error = %v, want ErrNoData", err)
	}
}

func TestFetch_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 10; i++ {
		if _, err := client.Fetch(context.Background(), fetchRequest()); !errors.Is(err, weather.ErrNoData) {
			t.Fatalf("call %d: error = %v, want ErrNoData", i, err)
		}
	}
	// gobreaker trips after more than 5 consecutive failures
	if got := atomic.LoadInt32(hits); got != 6 {
		t.Fatalf("upstream hit %d times, want 6 before the breaker opened", got)
	}
}

func TestFetch_NoHTTPClient(t *testing.T) {
	client := NewTecdottirClient(nil, "http://example.invalid", nil)
	if _, err := client.Fetch(context.Background(), fetchRequest()); !errors.Is(err, weather.ErrNoData) {
		t.Fatalf("error = %v, want ErrNoData", err)
	}
}
