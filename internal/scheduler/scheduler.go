package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/i474232898/weather-measurements/internal/metrics"
	"github.com/i474232898/weather-measurements/internal/weather"
)

// Options controls the fetch window and paging of each ingestion run.
type Options struct {
	Stations      []string
	Interval      time.Duration // 0 runs once at startup
	LookbackDays  int
	LookaheadDays int
	Sort          string
	Limit         int
}

// RunSummary describes one ingestion run over all stations.
type RunSummary struct {
	ID        string
	Stations  int
	NoData    int
	Failed    int
	Committed int
}

// Scheduler runs ingestion at startup and then on the configured interval.
// Runs never overlap, so there is a single writer at a time.
type Scheduler struct {
	scheduler *gocron.Scheduler
	fetcher   weather.Fetcher
	processor *weather.Processor
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	cancel    context.CancelFunc
}

// New creates a new Scheduler.
func New(fetcher weather.Fetcher, processor *weather.Processor, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		fetcher:   fetcher,
		processor: processor,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the ingestion job and starts the underlying scheduler. The
// first run starts immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.opts.Stations) == 0 {
		s.logger.Info("scheduler: no stations configured; nothing to schedule")
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	job := func() { s.RunOnce(ctx) }

	var err error
	if s.opts.Interval > 0 {
		_, err = s.scheduler.Every(s.opts.Interval).Do(job)
	} else {
		_, err = s.scheduler.Every(1).Day().LimitRunsTo(1).Do(job)
	}
	if err != nil {
		s.cancel()
		return err
	}

	s.logger.Info("scheduler started", "stations", s.opts.Stations, "interval", s.opts.Interval)
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels an in-flight run.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// RunOnce ingests every configured station in order. A station without data
// or with a failed commit is logged and the run moves on.
func (s *Scheduler) RunOnce(ctx context.Context) RunSummary {
	summary := RunSummary{ID: uuid.NewString()}
	log := s.logger.With("run_id", summary.ID)

	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -s.opts.LookbackDays)
	end := today.AddDate(0, 0, s.opts.LookaheadDays)

	log.Info("ingestion run started", "start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))

	for _, station := range s.opts.Stations {
		if ctx.Err() != nil {
			log.Warn("ingestion run cancelled", "err", ctx.Err())
			break
		}
		summary.Stations++

		resp, err := s.fetcher.Fetch(ctx, weather.FetchRequest{
			Station:   station,
			StartDate: start,
			EndDate:   end,
			Sort:      s.opts.Sort,
			Limit:     s.opts.Limit,
			Offset:    0,
		})
		if err != nil {
			if !errors.Is(err, weather.ErrNoData) {
				log.Error("fetch failed", "station", station, "err", err)
			}
			log.Warn("no data fetched", "station", station)
			summary.NoData++
			continue
		}

		result, err := s.processor.Process(ctx, resp)
		if err != nil {
			log.Error("processing failed", "station", station, "err", err)
			summary.Failed++
			continue
		}
		summary.Committed += result.Committed
	}

	outcome := "ok"
	switch {
	case summary.Failed > 0:
		outcome = "failed"
	case summary.NoData > 0:
		outcome = "partial"
	}
	metrics.IngestRuns.WithLabelValues(outcome).Inc()
	metrics.RowsCommitted.Add(float64(summary.Committed))

	log.Info("ingestion run finished",
		"result", outcome,
		"stations", summary.Stations,
		"no_data", summary.NoData,
		"failed", summary.Failed,
		"committed", summary.Committed,
	)
	return summary
}
