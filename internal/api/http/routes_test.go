package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-measurements/internal/store"
	"github.com/i474232898/weather-measurements/internal/weather"
)

var (
	fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	seedDay  = time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
)

func newTestApp(t *testing.T) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	mem := store.NewMemoryStore(logger)

	ctx := context.Background()
	uow, _ := mem.Begin(ctx)
	for i, v := range []float64{18.0, 22.0} {
		_, err := uow.Insert(ctx, weather.Candidate{
			StationName:  "tiefenbrunnen",
			TypeName:     "air_temperature",
			Value:        v,
			Unit:         "°C",
			Status:       "ok",
			TimestampUTC: seedDay.Add(time.Duration(10+i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := uow.Commit(ctx); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": true, "message": err.Error()})
		},
	})
	svc := weather.NewService(mem, logger, weather.WithClock(func() time.Time { return fixedNow }))
	RegisterRoutes(app, svc, logger)
	RegisterSystemRoutes(app, "weather-measurements", mem)
	return app, mem
}

func get(t *testing.T, app *fiber.App, target string) (int, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func TestAggregationStatusCodes(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"highest ok", "/api/v1/weatherdata/highest?measurementType=air_temperature&start=2025-03-07&end=2025-03-07&station=tiefenbrunnen", http.StatusOK},
		{"station case folded", "/api/v1/weatherdata/count?measurementType=air_temperature&start=2025-03-07&end=2025-03-07&station=Tiefenbrunnen", http.StatusOK},
		{"all without station", "/api/v1/weatherdata?measurementType=air_temperature&start=2025-03-07&end=2025-03-07", http.StatusOK},
		{"missing type", "/api/v1/weatherdata/count?start=2025-03-07&end=2025-03-07", http.StatusBadRequest},
		{"missing dates", "/api/v1/weatherdata/count?measurementType=air_temperature", http.StatusBadRequest},
		{"bad date", "/api/v1/weatherdata/count?measurementType=air_temperature&start=yesterday&end=2025-03-07", http.StatusBadRequest},
		{"start after end", "/api/v1/weatherdata/average?measurementType=air_temperature&start=2025-03-08&end=2025-03-07", http.StatusBadRequest},
		{"end in future", "/api/v1/weatherdata/lowest?measurementType=air_temperature&start=2025-03-07&end=2025-03-11", http.StatusBadRequest},
		{"unknown type", "/api/v1/weatherdata/count?measurementType=dew_point&start=2025-03-07&end=2025-03-07", http.StatusNotFound},
		{"unknown station", "/api/v1/weatherdata/count?measurementType=air_temperature&start=2025-03-07&end=2025-03-07&station=zurich", http.StatusNotFound},
		{"statistics", "/api/v1/weatherdata/statistics?measurementType=air_temperature&start=2025-03-07&end=2025-03-07", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, app, tt.target)
			if status != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, status, body)
			}
		})
	}
}

func TestHighestResponseShape(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := get(t, app, "/api/v1/weatherdata/highest?measurementType=air_temperature&start=2025-03-07&end=2025-03-07&station=tiefenbrunnen")
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}

	var got struct {
		Result  map[string]any   `json:"result"`
		Dataset []map[string]any `json:"dataset"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Result["value"] != 22.0 || got.Result["stationName"] != "tiefenbrunnen" ||
		got.Result["measurementType"] != "air_temperature" || got.Result["unit"] != "°C" {
		t.Fatalf("result = %v", got.Result)
	}
	if got.Result["timestampUtc"] != "2025-03-07T11:00:00Z" {
		t.Fatalf("timestampUtc = %v", got.Result["timestampUtc"])
	}
	if len(got.Dataset) != 2 {
		t.Fatalf("dataset has %d rows, want 2", len(got.Dataset))
	}
}

func TestErrorBody(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := get(t, app, "/api/v1/weatherdata/count?measurementType=dew_point&start=2025-03-07&end=2025-03-07")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["error"] != true || !strings.Contains(got["message"].(string), "measurement type not found") {
		t.Fatalf("body = %s", body)
	}
}

func TestMeasurementListing(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := get(t, app, "/api/v1/measurements/tiefenbrunnen?start=2025-03-07&end=2025-03-07&sort=timestamp_cet%20asc&limit=1")
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	var page []weather.Measurement
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page) != 1 || page[0].Value != 18.0 {
		t.Fatalf("page = %+v, want oldest reading first", page)
	}

	for _, tt := range []struct {
		target string
		want   int
	}{
		{"/api/v1/measurements/zurich?start=2025-03-07&end=2025-03-07", http.StatusNotFound},
		{"/api/v1/measurements/tiefenbrunnen?start=2025-03-07&end=2025-03-07&limit=abc", http.StatusBadRequest},
		{"/api/v1/measurements/tiefenbrunnen?start=2025-03-07&end=2025-03-07&limit=5000", http.StatusBadRequest},
		{"/api/v1/measurements/tiefenbrunnen?start=2025-03-07", http.StatusBadRequest},
	} {
		if status, body := get(t, app, tt.target); status != tt.want {
			t.Errorf("%s: status = %d, want %d: %s", tt.target, status, tt.want, body)
		}
	}
}

func TestNameListings(t *testing.T) {
	app, _ := newTestApp(t)

	for target, want := range map[string]string{
		"/api/v1/stations":         `["tiefenbrunnen"]`,
		"/api/v1/measurementtypes": `["air_temperature"]`,
	} {
		status, body := get(t, app, target)
		if status != http.StatusOK || string(body) != want {
			t.Errorf("%s = %d %s, want 200 %s", target, status, body, want)
		}
	}
}

func TestSystemRoutes(t *testing.T) {
	app, _ := newTestApp(t)

	if status, body := get(t, app, "/health"); status != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("/health = %d %s", status, body)
	}

	// make sure at least one labelled sample exists
	get(t, app, "/api/v1/weatherdata/count?measurementType=air_temperature&start=2025-03-07&end=2025-03-07")
	status, body := get(t, app, "/metrics")
	if status != http.StatusOK || !strings.Contains(string(body), "weather_query_requests_total") {
		t.Fatalf("/metrics = %d, missing query counter", status)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-07", time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)},
		{"2025-03-07T10:00:00+01:00", time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)},
		{"1741341600", time.Unix(1741341600, 0).UTC()},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in)
		if err != nil {
			t.Fatalf("parseTime(%q): %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseTime("07.03.2025"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
