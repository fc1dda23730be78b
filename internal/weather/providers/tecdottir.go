package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-measurements/internal/metrics"
	"github.com/i474232898/weather-measurements/internal/weather"
)

const dateLayout = "2006-01-02"

// TecdottirClient implements weather.Fetcher for the tecdottir measurement API.
type TecdottirClient struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewTecdottirClient(client *http.Client, baseURL string, logger *slog.Logger) *TecdottirClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := HTTPClientConfig{
		Client:  client,
		Breaker: defaultBreakerSettings("tecdottir"),
	}
	cfg.Breaker.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}

	return &TecdottirClient{
		name:    "tecdottir",
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: cfg,
		circuit: gobreaker.NewCircuitBreaker(cfg.Breaker),
		logger:  logger,
	}
}

func (p *TecdottirClient) Name() string {
	return p.name
}

// Fetch requests one page of measurements. Every failure is logged here and
// returned wrapping weather.ErrNoData.
func (p *TecdottirClient) Fetch(ctx context.Context, fr weather.FetchRequest) (*weather.APIResponse, error) {
	log := p.logger.With("station", fr.Station)
	u := p.measurementsURL(fr)

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequest(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		var se *statusError
		switch {
		case errors.As(err, &se):
			log.Error("upstream returned non-success status", "status", se.code, "url", u)
			return nil, p.fail("status", err)
		case errors.Is(err, errCircuitOpen):
			log.Error("upstream circuit open; skipping request", "err", err)
			return nil, p.fail("circuit_open", err)
		default:
			log.Error("upstream request failed", "err", err, "url", u)
			return nil, p.fail("transport", err)
		}
	}
	defer resp.Body.Close()

	var payload weather.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Error("failed to decode upstream response", "err", err)
		return nil, p.fail("decode", err)
	}

	if !payload.OK {
		log.Warn("upstream reported failure", "message", payload.MessageText())
		return nil, p.fail("not_ok", fmt.Errorf("upstream message: %q", payload.MessageText()))
	}

	log.Debug("fetched measurements", "rows", len(payload.Result), "total", payload.TotalCount)
	return &payload, nil
}

func (p *TecdottirClient) fail(reason string, err error) error {
	metrics.FetchFailures.WithLabelValues(reason).Inc()
	return fmt.Errorf("%w: %s: %w", weather.ErrNoData, p.name, err)
}

func (p *TecdottirClient) measurementsURL(fr weather.FetchRequest) string {
	values := url.Values{}
	values.Set("startDate", fr.StartDate.Format(dateLayout))
	values.Set("endDate", fr.EndDate.Format(dateLayout))
	values.Set("sort", fr.Sort)
	values.Set("limit", strconv.Itoa(fr.Limit))
	values.Set("offset", strconv.Itoa(fr.Offset))

	return fmt.Sprintf("%s/measurements/%s?%s", p.baseURL, url.PathEscape(fr.Station), values.Encode())
}
