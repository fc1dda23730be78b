package weather

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Service answers aggregation queries over stored measurements. It is
// read-only and safe for concurrent use.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock overrides the clock used to reject ranges ending in the future.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new Service.
func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetHighest returns the first measurement with the maximum value.
func (s *Service) GetHighest(ctx context.Context, q Query) (Response[*Measurement], error) {
	ms, err := s.load(ctx, q, q.Station)
	if err != nil {
		return Response[*Measurement]{}, err
	}
	return Response[*Measurement]{Result: Highest(ms), Dataset: ms}, nil
}

// GetLowest returns the first measurement with the minimum value.
func (s *Service) GetLowest(ctx context.Context, q Query) (Response[*Measurement], error) {
	ms, err := s.load(ctx, q, q.Station)
	if err != nil {
		return Response[*Measurement]{}, err
	}
	return Response[*Measurement]{Result: Lowest(ms), Dataset: ms}, nil
}

func (s *Service) GetAverage(ctx context.Context, q Query) (Response[*float64], error) {
	ms, err := s.load(ctx, q, q.Station)
	if err != nil {
		return Response[*float64]{}, err
	}
	return Response[*float64]{Result: Average(ms), Dataset: ms}, nil
}

func (s *Service) GetCount(ctx context.Context, q Query) (Response[int], error) {
	ms, err := s.load(ctx, q, q.Station)
	if err != nil {
		return Response[int]{}, err
	}
	return Response[int]{Result: Count(ms), Dataset: ms}, nil
}

// GetAll loads every station's measurements for the type and range and
// filters by station in memory. Dataset holds the unfiltered load, Result
// the station's subset.
func (s *Service) GetAll(ctx context.Context, q Query) (Response[[]Measurement], error) {
	ms, err := s.load(ctx, q, "")
	if err != nil {
		return Response[[]Measurement]{}, err
	}
	result := ms
	if q.Station != "" {
		result = FilterByStation(ms, q.Station)
	}
	return Response[[]Measurement]{Result: result, Dataset: ms}, nil
}

// GetStatistics returns min, max, mean and count for the query, or a nil
// result when nothing matched.
func (s *Service) GetStatistics(ctx context.Context, q Query) (Response[*Statistics], error) {
	start, end, err := s.validate(ctx, q)
	if err != nil {
		return Response[*Statistics]{}, err
	}
	ms, err := s.store.QueryRange(ctx, q.Station, start, end, q.MeasurementType)
	if err != nil {
		return Response[*Statistics]{}, fmt.Errorf("query range: %w", err)
	}
	ms = nonNil(ms)

	stats := Summarize(ms)
	if stats != nil {
		stats.StationName = q.Station
		stats.RangeStart = start
		stats.RangeEnd = end
	}
	return Response[*Statistics]{Result: stats, Dataset: ms}, nil
}

// ListMeasurements pages through one station's raw measurements across all types.
func (s *Service) ListMeasurements(ctx context.Context, f MeasurementFilter) ([]Measurement, error) {
	if f.Start.After(f.End) {
		return nil, &ValidationError{Field: "start", Reason: "start must not be after end", Err: ErrInvalidRange}
	}
	if f.Limit == 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit < 0 || f.Limit > MaxPageLimit {
		return nil, &ValidationError{Field: "limit", Reason: fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit), Err: ErrInvalidPage}
	}
	if f.Offset < 0 {
		return nil, &ValidationError{Field: "offset", Reason: "offset must not be negative", Err: ErrInvalidPage}
	}

	exists, err := s.store.StationExists(ctx, f.Station)
	if err != nil {
		return nil, fmt.Errorf("station lookup: %w", err)
	}
	if !exists {
		return nil, &ValidationError{Field: "station", Reason: f.Station, Err: ErrStationNotFound}
	}

	f.Start, f.End = normalizeRange(f.Start, f.End)
	ms, err := s.store.ListMeasurements(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}
	return nonNil(ms), nil
}

func (s *Service) StationNames(ctx context.Context) ([]string, error) {
	stations, err := s.store.ListStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	names := make([]string, 0, len(stations))
	for _, st := range stations {
		names = append(names, st.Name)
	}
	return names, nil
}

func (s *Service) MeasurementTypeNames(ctx context.Context) ([]string, error) {
	types, err := s.store.ListMeasurementTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list measurement types: %w", err)
	}
	names := make([]string, 0, len(types))
	for _, mt := range types {
		names = append(names, mt.Name)
	}
	return names, nil
}

func (s *Service) load(ctx context.Context, q Query, station string) ([]Measurement, error) {
	start, end, err := s.validate(ctx, q)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.QueryRange(ctx, station, start, end, q.MeasurementType)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	s.logger.Debug("loaded measurements",
		"type", q.MeasurementType,
		"station", station,
		"start", start,
		"end", end,
		"count", len(ms),
	)
	return nonNil(ms), nil
}

// validate applies the checks in order and stops at the first failure. Range
// checks run before any store access. On success it returns the range
// widened to whole UTC days.
func (s *Service) validate(ctx context.Context, q Query) (time.Time, time.Time, error) {
	if q.Start.After(q.End) {
		return time.Time{}, time.Time{}, &ValidationError{Field: "start", Reason: "start must not be after end", Err: ErrInvalidRange}
	}
	if dayStart(q.End).After(dayStart(s.now())) {
		return time.Time{}, time.Time{}, &ValidationError{Field: "end", Reason: "end must not be in the future", Err: ErrInvalidRange}
	}

	ok, err := s.store.MeasurementTypeExists(ctx, q.MeasurementType)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("measurement type lookup: %w", err)
	}
	if !ok {
		return time.Time{}, time.Time{}, &ValidationError{Field: "measurementType", Reason: q.MeasurementType, Err: ErrMeasurementTypeNotFound}
	}

	if q.Station != "" {
		ok, err := s.store.StationExists(ctx, q.Station)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("station lookup: %w", err)
		}
		if !ok {
			return time.Time{}, time.Time{}, &ValidationError{Field: "station", Reason: q.Station, Err: ErrStationNotFound}
		}
	}

	start, end := normalizeRange(q.Start, q.End)
	return start, end, nil
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// normalizeRange widens [start, end] to [start 00:00, end 23:59:59.999999999] UTC.
func normalizeRange(start, end time.Time) (time.Time, time.Time) {
	return dayStart(start), dayStart(end).Add(24*time.Hour - time.Nanosecond)
}

func nonNil(ms []Measurement) []Measurement {
	if ms == nil {
		return []Measurement{}
	}
	return ms
}
