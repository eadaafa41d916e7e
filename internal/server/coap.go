// Package server runs the gateway's inbound CoAP listener. Proxying from CoAP
// to HTTP is not supported, so every request is answered 5.05.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpserver "github.com/plgd-dev/go-coap/v3/udp/server"

	"coap-gateway/internal/metrics"
)

const notSupportedBody = "CoAP to HTTP proxying is not supported"

// ErrStarted is returned when Start is called twice.
var ErrStarted = errors.New("coap listener already started")

// CoAPListener answers inbound CoAP requests on a UDP port.
type CoAPListener struct {
	addr    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	conn *coapnet.UDPConn
	srv  *udpserver.Server
	done chan struct{}
}

// NewCoAPListener creates a listener for addr. Nothing is bound until Start.
func NewCoAPListener(addr string, logger *slog.Logger, m *metrics.Metrics) *CoAPListener {
	return &CoAPListener{
		addr:    addr,
		logger:  logger.With("component", "coap_listener"),
		metrics: m,
	}
}

// Start binds the UDP socket and serves in the background.
func (l *CoAPListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.srv != nil {
		return ErrStarted
	}

	conn, err := coapnet.NewListenUDP("udp", l.addr)
	if err != nil {
		return fmt.Errorf("bind coap %s: %w", l.addr, err)
	}

	router := mux.NewRouter()
	router.DefaultHandle(mux.HandlerFunc(l.handle))

	l.conn = conn
	l.srv = udp.NewServer(options.WithMux(router))
	l.done = make(chan struct{})

	srv, done := l.srv, l.done
	go func() {
		defer close(done)
		if err := srv.Serve(conn); err != nil {
			l.logger.Error("coap listener stopped", "err", err)
		}
	}()

	l.logger.Info("coap listener started", "addr", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *CoAPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stop shuts the listener down and waits for the serve loop to exit.
func (l *CoAPListener) Stop() {
	l.mu.Lock()
	srv, conn, done := l.srv, l.conn, l.done
	l.mu.Unlock()
	if srv == nil {
		return
	}

	srv.Stop()
	_ = conn.Close()
	<-done
	l.logger.Info("coap listener stopped")
}

func (l *CoAPListener) handle(w mux.ResponseWriter, r *mux.Message) {
	if l.metrics != nil {
		l.metrics.InboundCoAPRequests.Inc()
	}
	path, _ := r.Path()
	l.logger.Debug("inbound coap request rejected",
		"code", r.Code().String(),
		"path", path,
		"remote", w.Conn().RemoteAddr().String(),
	)

	if err := w.SetResponse(codes.ProxyingNotSupported, message.TextPlain, bytes.NewReader([]byte(notSupportedBody))); err != nil {
		l.logger.Warn("writing coap response", "err", err)
	}
}
