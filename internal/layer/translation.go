package layer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coap-gateway/internal/mapping"
	"coap-gateway/internal/metrics"
	"coap-gateway/internal/model"
)

// DefaultTimeout bounds the wait for a CoAP reply when none is configured.
const DefaultTimeout = 10 * time.Second

// Transport sends one CoAP request and returns its correlated reply.
// Implementations must honour ctx cancellation.
type Transport interface {
	Exchange(ctx context.Context, req *model.TargetRequest) (*model.TargetReply, error)
}

// Translation is the terminal stage: it re-expresses the message as a CoAP
// request, sends it and waits a bounded time for the reply.
type Translation struct {
	resolver  *Resolver
	transport Transport
	tokens    *TokenSource
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type exchangeResult struct {
	reply *model.TargetReply
	err   error
}

// NewTranslation creates the translation stage.
// The metrics parameter is optional; pass nil to disable target metrics.
func NewTranslation(resolver *Resolver, transport Transport, tokens *TokenSource, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Translation {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Translation{
		resolver:  resolver,
		transport: transport,
		tokens:    tokens,
		timeout:   timeout,
		logger:    logger.With("component", "translation"),
		metrics:   m,
	}
}

func (t *Translation) Name() string { return "translation" }

// Attempt always answers: with the translated reply, or with an error
// classified as ErrBadURI, ErrTimeout or ErrTransport.
func (t *Translation) Attempt(ctx context.Context, msg *model.ProxyMessage) (*model.Response, error) {
	req, err := t.BuildRequest(msg)
	if err != nil {
		t.countError("bad_request")
		return nil, err
	}

	tok, err := t.tokens.Acquire()
	if err != nil {
		t.countError("transport")
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Token = tok

	// The exchange outlives a disconnected client; only the timeout bounds it.
	xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	method := req.Method.String()
	done := make(chan exchangeResult, 1)
	start := time.Now()

	go func() {
		defer t.tokens.Release(tok)
		defer func() {
			if r := recover(); r != nil {
				done <- exchangeResult{err: fmt.Errorf("transport panic: %v", r)}
			}
		}()
		reply, err := t.transport.Exchange(xctx, req)
		done <- exchangeResult{reply: reply, err: err}
	}()

	var res exchangeResult
	select {
	case res = <-done:
	case <-xctx.Done():
		res.err = xctx.Err()
	}
	rtt := time.Since(start)

	if t.metrics != nil {
		t.metrics.TargetDuration.WithLabelValues(method).Observe(rtt.Seconds())
	}

	switch {
	case errors.Is(res.err, context.DeadlineExceeded):
		t.countError("timeout")
		t.logger.Warn("target exchange timed out",
			"uri", req.URI.String(),
			"method", method,
			"timeout", t.timeout,
		)
		return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, t.timeout, req.URI)
	case res.err != nil:
		t.countError("transport")
		t.logger.Error("target exchange failed",
			"uri", req.URI.String(),
			"method", method,
			"error", res.err,
		)
		return nil, fmt.Errorf("%w: %w", ErrTransport, res.err)
	case res.reply == nil:
		t.countError("transport")
		t.logger.Error("target exchange returned no reply",
			"uri", req.URI.String(),
			"method", method,
		)
		return nil, fmt.Errorf("%w: empty reply from %s", ErrTransport, req.URI)
	case len(res.reply.Token) > 0 && !bytes.Equal(res.reply.Token, tok):
		t.countError("transport")
		t.logger.Error("target reply token mismatch",
			"uri", req.URI.String(),
			"method", method,
			"token", fmt.Sprintf("%x", []byte(tok)),
			"reply_token", fmt.Sprintf("%x", []byte(res.reply.Token)),
		)
		return nil, fmt.Errorf("%w: reply token %x does not match %x", ErrTransport, []byte(res.reply.Token), []byte(tok))
	}

	if t.metrics != nil {
		t.metrics.TargetResponses.WithLabelValues(method, mapping.Dotted(res.reply.Code)).Inc()
	}
	t.logger.Debug("target exchange completed",
		"uri", req.URI.String(),
		"method", method,
		"code", mapping.Dotted(res.reply.Code),
		"rtt_ms", rtt.Milliseconds(),
	)

	return &model.Response{
		Code:             res.reply.Code,
		ContentFormat:    res.reply.ContentFormat,
		HasContentFormat: res.reply.HasContentFormat,
		Payload:          res.reply.Payload,
		RTT:              rtt,
		MaxAge:           res.reply.MaxAge,
		HasMaxAge:        res.reply.HasMaxAge,
		Request:          msg,
		Source:           model.SourceTranslation,
	}, nil
}

// BuildRequest derives the CoAP request for msg without a token. It performs
// no network activity.
func (t *Translation) BuildRequest(msg *model.ProxyMessage) (*model.TargetRequest, error) {
	method, err := mapping.TargetMethod(msg.Method())
	if err != nil {
		return nil, err
	}
	uri, err := t.resolver.URI(msg)
	if err != nil {
		return nil, err
	}

	req := &model.TargetRequest{
		Method:  method,
		URI:     uri,
		Payload: msg.Body(),
	}
	if mt, ok := mapping.MediaType(msg.ContentType()); ok {
		req.ContentFormat = mt
		req.HasContentFormat = true
	}
	return req, nil
}

func (t *Translation) countError(kind string) {
	if t.metrics != nil {
		t.metrics.TargetErrors.WithLabelValues(kind).Inc()
	}
}
