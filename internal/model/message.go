// Package model defines the request and response types that flow through the gateway pipeline.
package model

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnsupportedMethod is returned when an inbound method is not one of the six recognized methods.
var ErrUnsupportedMethod = errors.New("unsupported method")

// Method is an inbound request method recognized by the gateway.
type Method int

const (
	MethodGet Method = iota + 1
	MethodPost
	MethodPut
	MethodDelete
	MethodDiscover
	MethodObserve
)

var methodNames = map[Method]string{
	MethodGet:      "GET",
	MethodPost:     "POST",
	MethodPut:      "PUT",
	MethodDelete:   "DELETE",
	MethodDiscover: "DISCOVER",
	MethodObserve:  "OBSERVE",
}

// Methods lists every recognized method in declaration order.
var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodDelete, MethodDiscover, MethodObserve}

// ParseMethod converts a request method token into a Method. Matching is exact,
// as HTTP method names are case-sensitive.
func ParseMethod(s string) (Method, error) {
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Valid reports whether m is one of the recognized methods.
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// ProxyMessage is a read-only snapshot of one inbound request. It is shared by
// every layer of a single pipeline traversal and must not be modified.
type ProxyMessage struct {
	method      Method
	path        string
	fragment    string
	remoteAddr  string
	contentType string
	header      http.Header
	body        []byte
	requestID   string
}

// MessageParams carries the fields used to build a ProxyMessage.
type MessageParams struct {
	Method      Method
	Path        string
	Fragment    string
	RemoteAddr  string
	ContentType string
	Header      http.Header
	// Body is nil when the request carried no body.
	Body      []byte
	RequestID string
}

// NewProxyMessage builds an immutable ProxyMessage. Header and body are deep-copied
// and the content type is normalized by dropping any parameters.
func NewProxyMessage(p MessageParams) *ProxyMessage {
	m := &ProxyMessage{
		method:      p.Method,
		path:        p.Path,
		fragment:    p.Fragment,
		remoteAddr:  p.RemoteAddr,
		contentType: NormalizeContentType(p.ContentType),
		header:      p.Header.Clone(),
		requestID:   p.RequestID,
	}
	if m.header == nil {
		m.header = http.Header{}
	}
	if p.Body != nil {
		m.body = bytes.Clone(p.Body)
	}
	return m
}

// NormalizeContentType returns the media type of a Content-Type value without
// parameters such as charset.
func NormalizeContentType(v string) string {
	mt, _, _ := strings.Cut(v, ";")
	return strings.TrimSpace(mt)
}

func (m *ProxyMessage) Method() Method { return m.method }

func (m *ProxyMessage) Path() string { return m.path }

func (m *ProxyMessage) Fragment() string { return m.fragment }

func (m *ProxyMessage) RemoteAddr() string { return m.remoteAddr }

// ContentType returns the declared media type, or "" when absent.
func (m *ProxyMessage) ContentType() string { return m.contentType }

func (m *ProxyMessage) RequestID() string { return m.requestID }

// Header returns a copy of the request header multimap.
func (m *ProxyMessage) Header() http.Header { return m.header.Clone() }

// HasBody reports whether the request carried a body.
func (m *ProxyMessage) HasBody() bool { return m.body != nil }

// Body returns a copy of the request body, or nil when absent.
func (m *ProxyMessage) Body() []byte {
	if m.body == nil {
		return nil
	}
	return bytes.Clone(m.body)
}
