package layer

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"golang.org/x/time/rate"

	"coap-gateway/internal/metrics"
	"coap-gateway/internal/model"
)

// DefaultMaxInFlight is the in-flight cap used when none is configured.
const DefaultMaxInFlight = 64

// AdmissionConfig configures the admission-control layer.
type AdmissionConfig struct {
	MaxInFlight int
	// RequestsPerSecond enables a global token bucket when > 0.
	RequestsPerSecond float64
	Burst             int
}

// Admission bounds the number of requests concurrently admitted to the
// translation layer. Requests over the bound are answered 5.03 immediately.
type Admission struct {
	limit   int64
	current atomic.Int64
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAdmission creates the admission stage.
// The metrics parameter is optional; pass nil to disable admission metrics.
func NewAdmission(cfg AdmissionConfig, logger *slog.Logger, m *metrics.Metrics) *Admission {
	limit := cfg.MaxInFlight
	if limit <= 0 {
		limit = DefaultMaxInFlight
	}
	a := &Admission{
		limit:   int64(limit),
		logger:  logger.With("component", "admission"),
		metrics: m,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RequestsPerSecond))
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return a
}

func (a *Admission) Name() string { return "admission" }

// Attempt takes an in-flight slot, or rejects msg when none is available or
// the request rate is exceeded.
func (a *Admission) Attempt(_ context.Context, msg *model.ProxyMessage) (*model.Response, error) {
	if n := a.current.Add(1); n > a.limit {
		a.current.Add(-1)
		return a.reject(msg, "in_flight"), nil
	}
	if a.limiter != nil && !a.limiter.Allow() {
		a.current.Add(-1)
		return a.reject(msg, "rate"), nil
	}
	a.setGauge()
	return nil, nil
}

// Complete releases the slot taken by Attempt.
func (a *Admission) Complete(context.Context, *model.ProxyMessage, *model.Response, error) {
	a.current.Add(-1)
	a.setGauge()
}

func (a *Admission) reject(msg *model.ProxyMessage, reason string) *model.Response {
	a.logger.Debug("request rejected",
		"reason", reason,
		"path", msg.Path(),
		"in_flight", a.current.Load(),
	)
	if a.metrics != nil {
		a.metrics.AdmissionRejections.WithLabelValues(reason).Inc()
	}
	return model.NewErrorResponse(codes.ServiceUnavailable, msg, model.SourceAdmission)
}

func (a *Admission) setGauge() {
	if a.metrics != nil {
		a.metrics.AdmissionInFlight.Set(float64(a.current.Load()))
	}
}

// InFlight returns the number of currently admitted requests.
func (a *Admission) InFlight() int64 { return a.current.Load() }

// Limit returns the in-flight cap.
func (a *Admission) Limit() int64 { return a.limit }
