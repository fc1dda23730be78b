package weather_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/i474232898/weather-measurements/internal/store"
	"github.com/i474232898/weather-measurements/internal/weather"
)

// countingStore wraps a Store and counts unit-of-work traffic.
type countingStore struct {
	weather.Store
	begins    int
	inserts   []weather.Candidate
	failType  string
	commitErr error
}

func (s *countingStore) Begin(ctx context.Context) (weather.UnitOfWork, error) {
	s.begins++
	uow, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &countingUnitOfWork{UnitOfWork: uow, store: s}, nil
}

type countingUnitOfWork struct {
	weather.UnitOfWork
	store *countingStore
}

func (u *countingUnitOfWork) Insert(ctx context.Context, c weather.Candidate) (bool, error) {
	u.store.inserts = append(u.store.inserts, c)
	if c.TypeName == u.store.failType {
		return false, errors.New("disk full")
	}
	return u.UnitOfWork.Insert(ctx, c)
}

func (u *countingUnitOfWork) Commit(ctx context.Context) (int, error) {
	if u.store.commitErr != nil {
		return 0, u.store.commitErr
	}
	return u.UnitOfWork.Commit(ctx)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newProcessor() (*weather.Processor, *countingStore) {
	cs := &countingStore{Store: store.NewMemoryStore(quietLogger())}
	return weather.NewProcessor(cs, []string{"tiefenbrunnen", "mythenquai"}, quietLogger()), cs
}

func decode(t *testing.T, payload string) *weather.APIResponse {
	t.Helper()
	var resp weather.APIResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return &resp
}

func allMeasurements(t *testing.T, s weather.Store, mtype string) []weather.Measurement {
	t.Helper()
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	ms, err := s.QueryRange(context.Background(), "", start, end, mtype)
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	return ms
}

func TestProcess_StoresValidReadings(t *testing.T) {
	p, cs := newProcessor()
	resp := decode(t, `{"ok": true, "message": null, "result": [{
		"station": "Tiefenbrunnen",
		"timestamp": "2025-03-07T10:00:00Z",
		"values": {
			"timestamp_cet": {"value": "2025-03-07T11:00:00+01:00", "unit": null, "status": "ok"},
			"TIMESTAMP_CET": {"value": 1, "unit": null, "status": "ok"},
			"air_temperature": {"value": 6.3, "unit": "°C", "status": "ok"},
			"humidity": {"value": "71.5", "unit": null, "status": "ok"},
			"dew_point": {"value": null, "unit": "°C", "status": "ok"}
		}
	}]}`)

	summary, err := p.Process(context.Background(), resp)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(cs.inserts) != 2 {
		t.Fatalf("inserted %d candidates, want 2 (timestamp_cet and null skipped): %+v", len(cs.inserts), cs.inserts)
	}
	if summary.Records != 1 || summary.SkippedValues != 1 || summary.Staged != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	air := allMeasurements(t, cs, "air_temperature")
	if len(air) != 1 {
		t.Fatalf("air_temperature rows = %d, want 1", len(air))
	}
	want := time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)
	if air[0].StationName != "tiefenbrunnen" || air[0].Value != 6.3 || !air[0].TimestampUTC.Equal(want) {
		t.Fatalf("air_temperature row = %+v", air[0])
	}

	humidity := allMeasurements(t, cs, "humidity")
	if len(humidity) != 1 || humidity[0].Value != 71.5 || humidity[0].Unit != "N/A" {
		t.Fatalf("humidity rows = %+v, want parsed string with N/A unit", humidity)
	}
}

func TestProcess_NonNumericStringIsNeverInserted(t *testing.T) {
	p, cs := newProcessor()
	resp := decode(t, `{"ok": true, "result": [{
		"station": "mythenquai",
		"timestamp": "2025-03-07T10:00:00Z",
		"values": {"air_temperature": {"value": "notANumber", "unit": "°C", "status": "ok"}}
	}]}`)

	summary, err := p.Process(context.Background(), resp)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(cs.inserts) != 0 {
		t.Fatalf("store insert called %d times, want 0", len(cs.inserts))
	}
	if summary.SkippedValues != 1 {
		t.Fatalf("SkippedValues = %d, want 1", summary.SkippedValues)
	}
}

func TestProcess_DisallowedStationIsSkipped(t *testing.T) {
	p, cs := newProcessor()
	resp := decode(t, `{"ok": true, "result": [
		{"station": "andere-station", "timestamp": "2025-03-07T10:00:00Z",
		 "values": {"air_temperature": {"value": 4, "unit": "°C", "status": "ok"}}},
		{"station": "", "timestamp": "2025-03-07T10:00:00Z",
		 "values": {"air_temperature": {"value": 5, "unit": "°C", "status": "ok"}}}
	]}`)

	summary, err := p.Process(context.Background(), resp)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if summary.SkippedRecords != 2 {
		t.Fatalf("SkippedRecords = %d, want 2", summary.SkippedRecords)
	}
	if got := allMeasurements(t, cs, "air_temperature"); len(got) != 0 {
		t.Fatalf("stored %d measurements, want 0", len(got))
	}
	if ok, _ := cs.StationExists(context.Background(), "andere-station"); ok {
		t.Fatal("disallowed station was created")
	}
}

func TestProcess_RejectedResponse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not ok", payload: `{"ok": false, "message": null, "result": []}`},
		{name: "message set", payload: `{"ok": true, "message": "rate limited", "result": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, cs := newProcessor()
			_, err := p.Process(context.Background(), decode(t, tt.payload))
			if !errors.Is(err, weather.ErrResponseRejected) {
				t.Fatalf("Process error = %v, want ErrResponseRejected", err)
			}
			if cs.begins != 0 {
				t.Fatalf("store touched %d times for rejected response", cs.begins)
			}
		})
	}

	p, _ := newProcessor()
	if _, err := p.Process(context.Background(), nil); !errors.Is(err, weather.ErrResponseRejected) {
		t.Fatalf("nil response error = %v, want ErrResponseRejected", err)
	}
}

func TestProcess_InsertFailureDoesNotAbort(t *testing.T) {
	p, cs := newProcessor()
	cs.failType = "humidity"
	resp := decode(t, `{"ok": true, "result": [{
		"station": "tiefenbrunnen", "timestamp": "2025-03-07T10:00:00Z",
		"values": {
			"air_temperature": {"value": 6, "unit": "°C", "status": "ok"},
			"humidity": {"value": 70, "unit": "%", "status": "ok"},
			"water_temperature": {"value": 8, "unit": "°C", "status": "ok"}
		}
	}]}`)

	summary, err := p.Process(context.Background(), resp)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if summary.Staged != 2 || summary.SkippedValues != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(allMeasurements(t, cs, "water_temperature")) != 1 {
		t.Fatal("processing stopped after a failed insert")
	}
}

func TestProcess_CommitFailureIsReturned(t *testing.T) {
	p, cs := newProcessor()
	cs.commitErr = errors.New("database is locked")
	resp := decode(t, `{"ok": true, "result": [{
		"station": "tiefenbrunnen", "timestamp": "2025-03-07T10:00:00Z",
		"values": {"air_temperature": {"value": 6, "unit": "°C", "status": "ok"}}
	}]}`)

	if _, err := p.Process(context.Background(), resp); err == nil {
		t.Fatal("expected commit error")
	}
}

func TestProcess_MissingStatusIsRejectedByStore(t *testing.T) {
	p, cs := newProcessor()
	resp := decode(t, `{"ok": true, "result": [{
		"station": "tiefenbrunnen", "timestamp": "2025-03-07T10:00:00Z",
		"values": {
			"air_temperature": {"value": 6, "unit": "°C"},
			"humidity": {"value": 70, "unit": "%", "status": "broken"}
		}
	}]}`)

	summary, err := p.Process(context.Background(), resp)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(cs.inserts) != 2 || cs.inserts[0].Status != "" {
		t.Fatalf("inserts = %+v, want empty fallback status passed through", cs.inserts)
	}
	if summary.Staged != 0 || summary.Committed != 0 {
		t.Fatalf("summary = %+v, want nothing staged", summary)
	}
}
