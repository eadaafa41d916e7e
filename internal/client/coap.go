// Package client provides the CoAP transport used by the translation layer.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"

	"coap-gateway/internal/model"
)

// ErrClosed is returned by Exchange after Close.
var ErrClosed = errors.New("coap client closed")

// CoAPClient exchanges requests with CoAP servers over UDP. One connection is
// kept per target address and reused for later exchanges.
type CoAPClient struct {
	logger *slog.Logger
	dial   func(addr string) (*udpclient.Conn, error)

	mu     sync.Mutex
	conns  map[string]*udpclient.Conn
	closed bool
}

// NewCoAPClient creates a CoAPClient.
func NewCoAPClient(logger *slog.Logger) *CoAPClient {
	return &CoAPClient{
		logger: logger.With("component", "coap_client"),
		dial:   func(addr string) (*udpclient.Conn, error) { return udp.Dial(addr) },
		conns:  make(map[string]*udpclient.Conn),
	}
}

// Exchange sends req and waits for the correlated reply. The context bounds
// the wait; the caller's token is used unchanged so replies can be matched.
func (c *CoAPClient) Exchange(ctx context.Context, req *model.TargetRequest) (*model.TargetReply, error) {
	if req == nil || req.URI == nil {
		return nil, errors.New("coap request without target")
	}
	addr := req.URI.Host

	conn, err := c.conn(addr)
	if err != nil {
		return nil, err
	}

	msg := conn.AcquireMessage(ctx)
	defer conn.ReleaseMessage(msg)

	msg.SetCode(req.Method)
	msg.SetType(message.Confirmable)
	msg.SetToken(req.Token)
	if err := msg.SetPath(req.URI.Path); err != nil {
		return nil, fmt.Errorf("set path %q: %w", req.URI.Path, err)
	}
	if req.HasContentFormat {
		msg.SetContentFormat(req.ContentFormat)
	}
	if len(req.Payload) > 0 {
		msg.SetBody(bytes.NewReader(req.Payload))
	}

	c.logger.Debug("coap request",
		"addr", addr,
		"method", req.Method.String(),
		"path", req.URI.Path,
	)

	resp, err := conn.Do(msg)
	if err != nil {
		if ctx.Err() == nil {
			// The connection may be unusable; dial again next time.
			c.drop(addr, conn)
		}
		return nil, fmt.Errorf("coap exchange with %s: %w", addr, err)
	}
	defer conn.ReleaseMessage(resp)

	// resp returns to the pool, so nothing may alias its buffers.
	reply := &model.TargetReply{
		Code:  resp.Code(),
		Token: bytes.Clone(resp.Token()),
	}
	if cf, err := resp.ContentFormat(); err == nil {
		reply.ContentFormat = cf
		reply.HasContentFormat = true
	}
	if age, err := resp.Options().GetUint32(message.MaxAge); err == nil {
		reply.MaxAge = time.Duration(age) * time.Second
		reply.HasMaxAge = true
	}
	if resp.Body() != nil {
		body, err := resp.ReadBody()
		if err != nil {
			return nil, fmt.Errorf("read coap payload from %s: %w", addr, err)
		}
		reply.Payload = body
	}
	return reply, nil
}

func (c *CoAPClient) conn(addr string) (*udpclient.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if conn, ok := c.conns[addr]; ok {
		select {
		case <-conn.Done():
			delete(c.conns, addr)
		default:
			return conn, nil
		}
	}

	conn, err := c.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.conns[addr] = conn
	c.logger.Debug("coap connection opened", "addr", addr)
	return conn, nil
}

func (c *CoAPClient) drop(addr string, conn *udpclient.Conn) {
	c.mu.Lock()
	if c.conns[addr] == conn {
		delete(c.conns, addr)
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// Conns reports the number of open target connections.
func (c *CoAPClient) Conns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Close closes every target connection. Later exchanges fail with ErrClosed.
func (c *CoAPClient) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*udpclient.Conn)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for addr, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}
