package layer

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"coap-gateway/internal/mapping"
	"coap-gateway/internal/model"
)

// DefaultTargetPort is the standard CoAP UDP port.
const DefaultTargetPort = 5683

// Resolver derives the CoAP target of a message. The host is the fixed
// target host when one is configured, otherwise the client's own host.
type Resolver struct {
	host string
	port int
}

// NewResolver returns a Resolver for the given fixed host (may be empty) and port.
func NewResolver(host string, port int) *Resolver {
	if port <= 0 {
		port = DefaultTargetPort
	}
	return &Resolver{host: host, port: port}
}

// URI builds coap://host:port/path#fragment for msg. Malformed hosts or paths
// fail with ErrBadURI.
func (r *Resolver) URI(msg *model.ProxyMessage) (*url.URL, error) {
	host := r.host
	if host == "" {
		h, _, err := net.SplitHostPort(msg.RemoteAddr())
		if err != nil {
			h = msg.RemoteAddr()
		}
		host = h
	}
	if host == "" {
		return nil, fmt.Errorf("%w: no target host for %q", ErrBadURI, msg.RemoteAddr())
	}
	if strings.ContainsAny(host, " /?#@\\") || strings.ContainsFunc(host, isControl) {
		return nil, fmt.Errorf("%w: invalid host %q", ErrBadURI, host)
	}

	path := msg.Path()
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path %q is not absolute", ErrBadURI, path)
	}
	if strings.ContainsFunc(path, isControl) || strings.ContainsFunc(msg.Fragment(), isControl) {
		return nil, fmt.Errorf("%w: control character in %q", ErrBadURI, path)
	}

	raw := (&url.URL{
		Scheme:   "coap",
		Host:     net.JoinHostPort(host, strconv.Itoa(r.port)),
		Path:     path,
		Fragment: msg.Fragment(),
	}).String()

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadURI, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: empty host in %q", ErrBadURI, raw)
	}
	return u, nil
}

// Key returns the cache key of msg: the CoAP method followed by the target URI.
func (r *Resolver) Key(msg *model.ProxyMessage) (string, codes.Code, error) {
	method, err := mapping.TargetMethod(msg.Method())
	if err != nil {
		return "", 0, err
	}
	u, err := r.URI(msg)
	if err != nil {
		return "", 0, err
	}
	return method.String() + " " + u.String(), method, nil
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
