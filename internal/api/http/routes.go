package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-measurements/internal/common"
	"github.com/i474232898/weather-measurements/internal/metrics"
	"github.com/i474232898/weather-measurements/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	v1 := app.Group("/api/v1")

	v1.Get("/weatherdata", aggregate(logger, "all", service.GetAll))
	v1.Get("/weatherdata/highest", aggregate(logger, "highest", service.GetHighest))
	v1.Get("/weatherdata/lowest", aggregate(logger, "lowest", service.GetLowest))
	v1.Get("/weatherdata/average", aggregate(logger, "average", service.GetAverage))
	v1.Get("/weatherdata/count", aggregate(logger, "count", service.GetCount))
	v1.Get("/weatherdata/statistics", aggregate(logger, "statistics", service.GetStatistics))

	v1.Get("/measurements/:station", func(c *fiber.Ctx) error {
		var req listQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		logger.Info("measurement listing request",
			"station", req.Station, "start", req.Start, "end", req.End,
			"limit", req.Limit, "offset", req.Offset)

		ms, err := service.ListMeasurements(c.UserContext(), req.toFilter())
		if err != nil {
			return toFiberError(logger, "list", err)
		}
		return c.JSON(ms)
	})

	v1.Get("/stations", func(c *fiber.Ctx) error {
		names, err := service.StationNames(c.UserContext())
		if err != nil {
			return toFiberError(logger, "stations", err)
		}
		return c.JSON(names)
	})

	v1.Get("/measurementtypes", func(c *fiber.Ctx) error {
		names, err := service.MeasurementTypeNames(c.UserContext())
		if err != nil {
			return toFiberError(logger, "measurement_types", err)
		}
		return c.JSON(names)
	})
}

// aggregate adapts one Service query method into a handler.
func aggregate[T any](
	logger *slog.Logger,
	operation string,
	fn func(context.Context, weather.Query) (weather.Response[T], error),
) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			metrics.QueryRequests.WithLabelValues(operation, strconv.Itoa(fiber.StatusBadRequest)).Inc()
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			metrics.QueryRequests.WithLabelValues(operation, strconv.Itoa(fiber.StatusBadRequest)).Inc()
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		logger.Info("weather data request",
			"operation", operation,
			"type", req.MeasurementType,
			"start", req.Start,
			"end", req.End,
			"station", req.Station,
		)

		resp, err := fn(c.UserContext(), req.toQuery())
		if err != nil {
			ferr := toFiberError(logger, operation, err)
			var fe *fiber.Error
			if errors.As(ferr, &fe) {
				metrics.QueryRequests.WithLabelValues(operation, strconv.Itoa(fe.Code)).Inc()
			}
			return ferr
		}

		metrics.QueryRequests.WithLabelValues(operation, strconv.Itoa(fiber.StatusOK)).Inc()
		return c.JSON(resp)
	}
}

// toFiberError maps service errors onto HTTP statuses. Only unexpected
// failures are logged at error level.
func toFiberError(logger *slog.Logger, operation string, err error) error {
	switch {
	case errors.Is(err, weather.ErrInvalidRange), errors.Is(err, weather.ErrInvalidPage):
		logger.Warn("rejected request", "operation", operation, "err", err)
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, weather.ErrMeasurementTypeNotFound), errors.Is(err, weather.ErrStationNotFound):
		logger.Warn("rejected request", "operation", operation, "err", err)
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		logger.Error("request failed", "operation", operation, "err", err)
		return fiber.NewError(fiber.StatusInternalServerError, "internal server error")
	}
}

// rangeQuery holds query parameters for the aggregation endpoints.
type rangeQuery struct {
	MeasurementType string    `validate:"required"`
	Start           time.Time `validate:"required"`
	End             time.Time `validate:"required"`
	Station         string
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	r.MeasurementType = strings.TrimSpace(c.Query("measurementType"))
	r.Station = common.NormalizeStation(c.Query("station"))

	start, end, err := parseRange(c)
	if err != nil {
		return err
	}
	r.Start, r.End = start, end
	return nil
}

func (r rangeQuery) toQuery() weather.Query {
	return weather.Query{
		MeasurementType: r.MeasurementType,
		Start:           r.Start,
		End:             r.End,
		Station:         r.Station,
	}
}

// listQuery holds parameters for the raw measurement listing.
type listQuery struct {
	Station    string    `validate:"required"`
	Start      time.Time `validate:"required"`
	End        time.Time `validate:"required"`
	Descending bool
	Limit      int `validate:"gte=0,lte=1000"`
	Offset     int `validate:"gte=0"`
}

func (l *listQuery) bind(c *fiber.Ctx) error {
	l.Station = common.NormalizeStation(c.Params("station"))

	start, end, err := parseRange(c)
	if err != nil {
		return err
	}
	l.Start, l.End = start, end

	sort := c.Query("sort")
	l.Descending = sort == "" || common.HasAny(sort, "desc")

	if l.Limit, err = queryInt(c, "limit", weather.DefaultPageLimit); err != nil {
		return err
	}
	if l.Offset, err = queryInt(c, "offset", 0); err != nil {
		return err
	}
	return nil
}

func (l listQuery) toFilter() weather.MeasurementFilter {
	return weather.MeasurementFilter{
		Station:    l.Station,
		Start:      l.Start,
		End:        l.End,
		Descending: l.Descending,
		Limit:      l.Limit,
		Offset:     l.Offset,
	}
}

func parseRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	startStr := c.Query("start")
	endStr := c.Query("end")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, errors.New("start and end query parameters are required")
	}

	start, err := parseTime(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTime(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

// parseTime accepts YYYY-MM-DD, RFC3339 or unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.DateOnly, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use YYYY-MM-DD, RFC3339 or unix seconds")
}
