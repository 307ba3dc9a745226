// Package reporter delivers JSON payloads to the core backend.
//
// Every call is best-effort: transport errors, timeouts and non-200 answers
// are logged and reported as false. Callers decide whether to try again on
// their next cycle.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
)

// Timeouts bounds each kind of backend call.
type Timeouts struct {
	StaticAlerts  time.Duration
	NetworkAlerts time.Duration
	Notify        time.Duration
	Metrics       time.Duration
}

// DefaultTimeouts returns the production timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		StaticAlerts:  constants.StaticAlertsTimeout,
		NetworkAlerts: constants.NetworkAlertsTimeout,
		Notify:        constants.NotifyTimeout,
		Metrics:       constants.MetricsPushTimeout,
	}
}

// Reporter posts JSON payloads to the backend.
type Reporter struct {
	baseURL     string
	client      *http.Client
	timeouts    Timeouts
	logger      *zap.Logger
	bus         *event.Bus
	containerID func() int
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) { r.client = c }
}

// WithEventBus publishes a report_sent/report_failed event per call.
func WithEventBus(bus *event.Bus) Option {
	return func(r *Reporter) { r.bus = bus }
}

// WithIdentity sets the source of the container ID stamped on events. It
// is read on every call, so a later reconfiguration is picked up.
func WithIdentity(containerID func() int) Option {
	return func(r *Reporter) { r.containerID = containerID }
}

// New creates a Reporter targeting baseURL (e.g. "http://172.28.0.1:8000").
func New(baseURL string, timeouts Timeouts, logger *zap.Logger, opts ...Option) *Reporter {
	r := &Reporter{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{},
		timeouts:    timeouts,
		logger:      logger,
		containerID: func() int { return 0 },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send POSTs payload as JSON to baseURL+path. The whole exchange is bounded
// by timeout. Only HTTP 200 counts as success.
func (r *Reporter) Send(ctx context.Context, path string, payload any, timeout time.Duration) bool {
	start := time.Now()
	ok := r.send(ctx, path, payload, timeout)
	r.publish(path, ok, time.Since(start))
	return ok
}

func (r *Reporter) send(ctx context.Context, path string, payload any, timeout time.Duration) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("Encoding backend payload", zap.String("endpoint", path), zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		r.logger.Error("Building backend request", zap.String("endpoint", path), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("Backend request failed, retrying on next cycle",
			zap.String("endpoint", path),
			zap.Duration("timeout", timeout),
			zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("Backend rejected payload",
			zap.String("endpoint", path),
			zap.Int("status", resp.StatusCode))
		return false
	}

	r.logger.Debug("Backend accepted payload",
		zap.String("endpoint", path),
		zap.Int("bytes", len(body)))
	return true
}

func (r *Reporter) publish(path string, ok bool, took time.Duration) {
	if r.bus == nil {
		return
	}
	t := event.TypeReportSent
	if !ok {
		t = event.TypeReportFailed
	}
	r.bus.Publish(event.New(t, r.containerID()).
		SetLabel(constants.KeyEndpoint, path).
		SetNumeric(constants.KeyDurationSec, took.Seconds()))
}
