package store

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/weather-measurements/internal/weather"
)

type measurementKey struct {
	station string
	mtype   string
	ts      int64
}

func keyOf(station, mtype string, ts time.Time) measurementKey {
	return measurementKey{station: station, mtype: mtype, ts: ts.UTC().UnixNano()}
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// Measurements are kept in insertion order.
type MemoryStore struct {
	mu sync.RWMutex

	stations     map[string]weather.Station
	types        map[string]weather.MeasurementType
	measurements []weather.Measurement
	keys         map[measurementKey]struct{}

	logger *slog.Logger
}

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		stations: make(map[string]weather.Station),
		types:    make(map[string]weather.MeasurementType),
		keys:     make(map[measurementKey]struct{}),
		logger:   logger,
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (weather.UnitOfWork, error) {
	return &memoryUnitOfWork{
		store:       s,
		stations:    make(map[string]bool),
		types:       make(map[string]bool),
		pendingKeys: make(map[measurementKey]struct{}),
	}, nil
}

// QueryRange returns matches ordered by timestamp, then insertion.
func (s *MemoryStore) QueryRange(ctx context.Context, station string, start, end time.Time, measurementType string) ([]weather.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Measurement
	for _, m := range s.measurements {
		if m.MeasurementType != measurementType {
			continue
		}
		if station != "" && m.StationName != station {
			continue
		}
		if inRange(m.TimestampUTC, start, end) {
			result = append(result, m)
		}
	}
	slices.SortStableFunc(result, func(a, b weather.Measurement) int {
		return a.TimestampUTC.Compare(b.TimestampUTC)
	})
	return result, nil
}

func (s *MemoryStore) ListMeasurements(ctx context.Context, f weather.MeasurementFilter) ([]weather.Measurement, error) {
	s.mu.RLock()
	var matched []weather.Measurement
	for _, m := range s.measurements {
		if m.StationName == f.Station && inRange(m.TimestampUTC, f.Start, f.End) {
			matched = append(matched, m)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b weather.Measurement) int {
		if f.Descending {
			return b.TimestampUTC.Compare(a.TimestampUTC)
		}
		return a.TimestampUTC.Compare(b.TimestampUTC)
	})

	if f.Offset >= len(matched) {
		return []weather.Measurement{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) ListStations(ctx context.Context) ([]weather.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.Station, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b weather.Station) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *MemoryStore) ListMeasurementTypes(ctx context.Context) ([]weather.MeasurementType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.MeasurementType, 0, len(s.types))
	for _, mt := range s.types {
		out = append(out, mt)
	}
	slices.SortFunc(out, func(a, b weather.MeasurementType) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *MemoryStore) StationExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stations[name]
	return ok, nil
}

func (s *MemoryStore) MeasurementTypeExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.types[name]
	return ok, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) hasMeasurement(k measurementKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[k]
	return ok
}

// memoryUnitOfWork resolves references through its own cache (which also
// holds pending entries), then the committed store.
type memoryUnitOfWork struct {
	store *MemoryStore

	stations map[string]bool // name -> pending
	types    map[string]bool

	pendingStations []weather.Station
	pendingTypes    []weather.MeasurementType
	pending         []weather.Measurement
	pendingKeys     map[measurementKey]struct{}

	done bool
}

func (u *memoryUnitOfWork) Insert(ctx context.Context, c weather.Candidate) (bool, error) {
	if u.done {
		return false, weather.ErrUnitOfWorkDone
	}
	if !strings.EqualFold(c.Status, statusOK) {
		u.store.logger.Error("rejecting measurement with non-ok status",
			"station", c.StationName, "type", c.TypeName, "status", c.Status, "timestamp", c.TimestampUTC)
		return false, nil
	}

	stationPending := u.resolveStation(ctx, c.StationName)
	typePending := u.resolveType(ctx, c.TypeName, c.Unit)

	k := keyOf(c.StationName, c.TypeName, c.TimestampUTC)
	_, staged := u.pendingKeys[k]
	if staged || (!stationPending && !typePending && u.store.hasMeasurement(k)) {
		u.store.logger.Debug("skipping duplicate measurement",
			"station", c.StationName, "type", c.TypeName, "timestamp", c.TimestampUTC)
		return false, nil
	}

	u.pendingKeys[k] = struct{}{}
	u.pending = append(u.pending, weather.Measurement{
		StationName:     c.StationName,
		MeasurementType: c.TypeName,
		Value:           c.Value,
		Unit:            c.Unit,
		TimestampUTC:    c.TimestampUTC.UTC(),
	})
	return true, nil
}

func (u *memoryUnitOfWork) resolveStation(ctx context.Context, name string) bool {
	if pending, ok := u.stations[name]; ok {
		return pending
	}
	exists, _ := u.store.StationExists(ctx, name)
	u.stations[name] = !exists
	if !exists {
		u.pendingStations = append(u.pendingStations, weather.Station{Name: name})
	}
	return !exists
}

func (u *memoryUnitOfWork) resolveType(ctx context.Context, name, unit string) bool {
	if pending, ok := u.types[name]; ok {
		return pending
	}
	exists, _ := u.store.MeasurementTypeExists(ctx, name)
	u.types[name] = !exists
	if !exists {
		u.pendingTypes = append(u.pendingTypes, weather.MeasurementType{Name: name, DefaultUnit: unit})
	}
	return !exists
}

func (u *memoryUnitOfWork) Commit(ctx context.Context) (int, error) {
	if u.done {
		return 0, weather.ErrUnitOfWorkDone
	}
	u.done = true

	s := u.store
	s.logger.Info("saving changes",
		"stations", len(u.pendingStations),
		"types", len(u.pendingTypes),
		"measurements", len(u.pending),
	)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := 0
	for _, st := range u.pendingStations {
		if _, ok := s.stations[st.Name]; !ok {
			s.stations[st.Name] = st
			rows++
		}
	}
	for _, mt := range u.pendingTypes {
		if _, ok := s.types[mt.Name]; !ok {
			s.types[mt.Name] = mt
			rows++
		}
	}
	for _, m := range u.pending {
		k := keyOf(m.StationName, m.MeasurementType, m.TimestampUTC)
		if _, ok := s.keys[k]; ok {
			continue
		}
		s.keys[k] = struct{}{}
		s.measurements = append(s.measurements, m)
		rows++
	}
	return rows, nil
}

func inRange(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}
