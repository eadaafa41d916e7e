package layer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"coap-gateway/internal/metrics"
	"coap-gateway/internal/model"
)

// Pipeline is the assembled chain: caching, then admission control, then
// translation. It is built once at startup and shared by all requests.
type Pipeline struct {
	head    *Layer
	layers  []*Layer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPipeline links the three stages in their fixed order.
// The metrics parameter is optional; pass nil to disable pipeline metrics.
func NewPipeline(cache *Cache, admission *Admission, translation *Translation, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if cache == nil || admission == nil || translation == nil {
		return nil, ErrNilLayer
	}
	logger = logger.With("component", "pipeline")

	layers := []*Layer{
		New(cache, logger),
		New(admission, logger),
		New(translation, logger),
	}
	for i := 0; i < len(layers)-1; i++ {
		if err := layers[i].SetUpperLayer(layers[i+1]); err != nil {
			return nil, fmt.Errorf("link %s layer: %w", layers[i].Name(), err)
		}
	}

	return &Pipeline{
		head:    layers[0],
		layers:  layers,
		logger:  logger,
		metrics: m,
	}, nil
}

// Handle runs msg through the chain. It never returns nil: failures are
// turned into synthesized error responses.
func (p *Pipeline) Handle(ctx context.Context, msg *model.ProxyMessage) *model.Response {
	resp, err := p.head.Process(ctx, msg)
	if err == nil && resp == nil {
		err = ErrNoResponse
	}
	if err != nil {
		resp = model.NewErrorResponse(errorCode(err), msg, model.SourceGateway)
		p.logger.Debug("pipeline error converted to response",
			"code", resp.Code.String(),
			"error", err,
		)
	}

	if p.metrics != nil {
		p.metrics.PipelineResponses.WithLabelValues(string(resp.Source)).Inc()
	}
	return resp
}

// Layers returns the names of the chain's layers, head first.
func (p *Pipeline) Layers() []string {
	names := make([]string, len(p.layers))
	for i, l := range p.layers {
		names[i] = l.Name()
	}
	return names
}

// errorCode maps pipeline errors to the CoAP code reported to the client.
func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrBadURI):
		return codes.BadRequest
	case errors.Is(err, model.ErrUnsupportedMethod):
		return codes.MethodNotAllowed
	case errors.Is(err, ErrTimeout):
		return codes.GatewayTimeout
	case errors.Is(err, ErrTransport):
		return codes.BadGateway
	default:
		return codes.InternalServerError
	}
}
