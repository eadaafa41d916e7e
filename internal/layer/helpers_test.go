package layer

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"coap-gateway/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMessage(method model.Method, path string) *model.ProxyMessage {
	return model.NewProxyMessage(model.MessageParams{
		Method:     method,
		Path:       path,
		RemoteAddr: "10.0.0.7:40000",
	})
}

// fakeTransport answers 2.05 with the request path as payload unless fn is set.
type fakeTransport struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req *model.TargetRequest) (*model.TargetReply, error)
}

func (f *fakeTransport) Exchange(ctx context.Context, req *model.TargetRequest) (*model.TargetReply, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &model.TargetReply{
		Code:    codes.Content,
		Payload: []byte(req.URI.Path),
		Token:   req.Token,
	}, nil
}

// spyStage counts Attempt and Complete calls of the wrapped stage.
type spyStage struct {
	inner     Stage
	attempts  atomic.Int32
	completes atomic.Int32
}

func (s *spyStage) Name() string { return s.inner.Name() }

func (s *spyStage) Attempt(ctx context.Context, msg *model.ProxyMessage) (*model.Response, error) {
	s.attempts.Add(1)
	return s.inner.Attempt(ctx, msg)
}

func (s *spyStage) Complete(ctx context.Context, msg *model.ProxyMessage, resp *model.Response, err error) {
	s.completes.Add(1)
	if c, ok := s.inner.(Completer); ok {
		c.Complete(ctx, msg, resp, err)
	}
}

// stubStage returns a fixed result.
type stubStage struct {
	name string
	resp *model.Response
	err  error
}

func (s stubStage) Name() string { return s.name }

func (s stubStage) Attempt(context.Context, *model.ProxyMessage) (*model.Response, error) {
	return s.resp, s.err
}
