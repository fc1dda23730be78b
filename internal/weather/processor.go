package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/i474232898/weather-measurements/internal/common"
	"github.com/i474232898/weather-measurements/internal/metrics"
)

const (
	// reservedTimestampField duplicates the record timestamp inside values.
	reservedTimestampField = "timestamp_cet"
	fallbackUnit           = "N/A"
)

// ProcessSummary reports what one Process call did.
type ProcessSummary struct {
	Records        int
	SkippedRecords int
	SkippedValues  int
	Staged         int
	Committed      int
}

// Processor turns upstream responses into staged measurements and commits
// them once per response.
type Processor struct {
	store   Store
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewProcessor creates a Processor accepting only the given stations
// (compared lower-case).
func NewProcessor(store Store, allowedStations []string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(allowedStations))
	for _, s := range allowedStations {
		allowed[common.NormalizeStation(s)] = struct{}{}
	}
	return &Processor{
		store:   store,
		allowed: allowed,
		logger:  logger,
	}
}

// Process validates resp, stages every acceptable reading and commits once.
// Bad records and values are skipped; only a rejected response or a failed
// commit is returned as an error.
func (p *Processor) Process(ctx context.Context, resp *APIResponse) (ProcessSummary, error) {
	var summary ProcessSummary

	if resp == nil {
		p.logger.Error("rejecting upstream response", "reason", "empty response")
		return summary, fmt.Errorf("%w: empty response", ErrResponseRejected)
	}
	if msg := resp.MessageText(); !resp.OK || msg != "" {
		p.logger.Error("rejecting upstream response", "ok", resp.OK, "message", msg)
		return summary, fmt.Errorf("%w: ok=%t message=%q", ErrResponseRejected, resp.OK, msg)
	}

	uow, err := p.store.Begin(ctx)
	if err != nil {
		return summary, fmt.Errorf("begin unit of work: %w", err)
	}

	for _, rec := range resp.Result {
		summary.Records++

		if strings.TrimSpace(rec.Station) == "" {
			p.logger.Warn("skipping record without station", "timestamp", rec.Timestamp)
			p.skipRecord(&summary, "missing_station")
			continue
		}

		station := common.NormalizeStation(rec.Station)
		if _, ok := p.allowed[station]; !ok {
			p.logger.Info("skipping record for station outside allow-list", "station", station)
			p.skipRecord(&summary, "station_not_allowed")
			continue
		}

		ts := rec.Timestamp.UTC()
		for _, name := range slices.Sorted(maps.Keys(rec.Values)) {
			if strings.EqualFold(name, reservedTimestampField) {
				continue
			}
			rv := rec.Values[name]
			log := p.logger.With("station", station, "type", name, "timestamp", ts)

			value, err := rv.Value.Coerce()
			switch {
			case errors.Is(err, ErrNullValue):
				log.Debug("skipping null value")
				p.skipValue(&summary, "null_value")
				continue
			case errors.Is(err, ErrNotNumeric):
				log.Warn("skipping non-numeric value", "value", rv.Value.Text)
				p.skipValue(&summary, "not_numeric")
				continue
			case err != nil:
				log.Warn("skipping value of unexpected kind", "kind", rv.Value.Kind.String())
				p.skipValue(&summary, "unsupported_value")
				continue
			}

			unit := fallbackUnit
			if rv.Unit != nil {
				unit = *rv.Unit
			}
			status := ""
			if rv.Status != nil {
				status = *rv.Status
			}

			staged, err := uow.Insert(ctx, Candidate{
				StationName:  station,
				TypeName:     name,
				Value:        value,
				Unit:         unit,
				Status:       status,
				TimestampUTC: ts,
			})
			if err != nil {
				log.Error("failed to stage measurement", "err", err)
				p.skipValue(&summary, "insert_failed")
				continue
			}
			if staged {
				summary.Staged++
			}
		}
	}

	n, err := uow.Commit(ctx)
	if err != nil {
		p.logger.Error("commit failed", "err", err, "staged", summary.Staged)
		return summary, fmt.Errorf("commit: %w", err)
	}
	summary.Committed = n

	p.logger.Info("processed upstream response",
		"records", summary.Records,
		"skipped_records", summary.SkippedRecords,
		"skipped_values", summary.SkippedValues,
		"committed", summary.Committed,
	)
	return summary, nil
}

func (p *Processor) skipRecord(s *ProcessSummary, reason string) {
	s.SkippedRecords++
	metrics.IngestSkipped.WithLabelValues(reason).Inc()
}

func (p *Processor) skipValue(s *ProcessSummary, reason string) {
	s.SkippedValues++
	metrics.IngestSkipped.WithLabelValues(reason).Inc()
}
