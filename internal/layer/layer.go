// Package layer implements the gateway request pipeline: a fixed chain of
// caching, admission-control and translation layers.
package layer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"coap-gateway/internal/model"
)

// Stage is the work done by one layer. Attempt returns (nil, nil) when the
// stage has no answer and the message should be passed to the upper layer.
type Stage interface {
	Name() string
	Attempt(ctx context.Context, msg *model.ProxyMessage) (*model.Response, error)
}

// Completer is implemented by stages that need to see the result produced
// above them. Complete is called once for every Attempt that delegated.
type Completer interface {
	Complete(ctx context.Context, msg *model.ProxyMessage, resp *model.Response, err error)
}

// Layer links a Stage to the next layer of the chain. The link is set once,
// before the first message is processed, and never changes afterwards.
type Layer struct {
	stage  Stage
	logger *slog.Logger
	upper  atomic.Pointer[Layer]
	used   atomic.Bool
}

// New wraps a stage in a Layer with no upper layer.
func New(stage Stage, logger *slog.Logger) *Layer {
	return &Layer{
		stage:  stage,
		logger: logger.With("layer", stage.Name()),
	}
}

// Name returns the name of the wrapped stage.
func (l *Layer) Name() string { return l.stage.Name() }

// SetUpperLayer links l to u. It may be called once, and only before l has
// processed any message.
func (l *Layer) SetUpperLayer(u *Layer) error {
	if u == nil {
		return ErrNilLayer
	}
	if l.used.Load() {
		return ErrChainInUse
	}
	if !l.upper.CompareAndSwap(nil, u) {
		return ErrUpperLayerSet
	}
	return nil
}

// HasUpperLayer reports whether l delegates to another layer.
func (l *Layer) HasUpperLayer() bool { return l.upper.Load() != nil }

// Process runs the stage and, when it has no answer, delegates to the upper
// layer and returns its result unmodified.
func (l *Layer) Process(ctx context.Context, msg *model.ProxyMessage) (*model.Response, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	l.used.Store(true)

	resp, err := l.stage.Attempt(ctx, msg)
	if err != nil || resp != nil {
		return resp, err
	}

	upper := l.upper.Load()
	if upper == nil {
		err = fmt.Errorf("%s layer: %w", l.stage.Name(), ErrNoResponse)
		l.logger.Error("no layer produced a response", "path", msg.Path(), "error", err)
	} else {
		resp, err = upper.Process(ctx, msg)
	}

	if c, ok := l.stage.(Completer); ok {
		c.Complete(ctx, msg, resp, err)
	}
	return resp, err
}
