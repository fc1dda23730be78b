package weather

import (
	"context"
	"time"
)

// FetchRequest is one page of upstream measurements for a station.
type FetchRequest struct {
	Station   string
	StartDate time.Time
	EndDate   time.Time
	Sort      string
	Limit     int
	Offset    int
}

// APIResponse is the decoded upstream envelope.
type APIResponse struct {
	OK         bool            `json:"ok"`
	Message    *string         `json:"message"`
	TotalCount int             `json:"total_count"`
	RowCount   int             `json:"row_count"`
	Result     []StationRecord `json:"result"`
}

// MessageText returns the embedded message or "" when absent.
func (r *APIResponse) MessageText() string {
	if r == nil || r.Message == nil {
		return ""
	}
	return *r.Message
}

// StationRecord is one timestamped row of readings for a station.
type StationRecord struct {
	Station   string                 `json:"station"`
	Timestamp time.Time              `json:"timestamp"`
	Values    map[string]RecordValue `json:"values"`
}

// RecordValue is a single reading inside a record.
type RecordValue struct {
	Value  RawValue `json:"value"`
	Unit   *string  `json:"unit"`
	Status *string  `json:"status"`
}

// Fetcher pulls measurements from the upstream API. Any failure is reported
// as an error wrapping ErrNoData.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*APIResponse, error)
}

// Store is the contract both the SQL and the in-memory stores satisfy.
type Store interface {
	// Begin opens a unit of work with its own reference cache.
	Begin(ctx context.Context) (UnitOfWork, error)

	// QueryRange returns measurements of measurementType with start <= ts <= end,
	// restricted to station unless it is empty, ordered by timestamp then insertion.
	QueryRange(ctx context.Context, station string, start, end time.Time, measurementType string) ([]Measurement, error)
	ListMeasurements(ctx context.Context, filter MeasurementFilter) ([]Measurement, error)

	ListStations(ctx context.Context) ([]Station, error)
	ListMeasurementTypes(ctx context.Context) ([]MeasurementType, error)
	StationExists(ctx context.Context, name string) (bool, error)
	MeasurementTypeExists(ctx context.Context, name string) (bool, error)

	Ping(ctx context.Context) error
}

// UnitOfWork stages candidates and flushes them atomically on Commit.
// It must not be shared between concurrent ingestion passes.
type UnitOfWork interface {
	// Insert stages c. It reports false when c was rejected (status not ok)
	// or is a duplicate; both are logged by the store, not returned as errors.
	Insert(ctx context.Context, c Candidate) (bool, error)
	// Commit persists everything staged and returns the number of rows written.
	Commit(ctx context.Context) (int, error)
}
