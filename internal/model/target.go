package model

import (
	"net/url"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// TargetRequest is the CoAP request derived from one ProxyMessage.
type TargetRequest struct {
	Method        codes.Code
	URI           *url.URL
	ContentFormat message.MediaType
	// HasContentFormat is false when the inbound content type was absent or unknown.
	HasContentFormat bool
	Payload          []byte
	Token            message.Token
}

// TargetReply is the correlated CoAP reply returned by a transport.
type TargetReply struct {
	Code             codes.Code
	ContentFormat    message.MediaType
	HasContentFormat bool
	Payload          []byte
	// MaxAge is only meaningful when HasMaxAge is set. A present zero
	// Max-Age forbids reuse of the reply.
	MaxAge    time.Duration
	HasMaxAge bool
	Token  message.Token
}
