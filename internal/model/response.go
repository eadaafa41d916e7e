package model

import (
	"bytes"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Source identifies which part of the pipeline produced a Response.
type Source string

const (
	SourceTranslation Source = "translation"
	SourceCache       Source = "cache"
	SourceAdmission   Source = "admission"
	SourceGateway     Source = "gateway"
)

// Response is the pipeline result, expressed in CoAP vocabulary.
type Response struct {
	Code             codes.Code
	ContentFormat    message.MediaType
	HasContentFormat bool
	Payload          []byte
	RTT              time.Duration
	MaxAge           time.Duration
	HasMaxAge        bool
	// Request is the message this response answers.
	Request *ProxyMessage
	Source  Source
}

// IsError reports whether the code is in the client or server error class.
func (r *Response) IsError() bool {
	class := r.Code >> 5
	return class == 4 || class == 5
}

// WithRequest returns a copy of r bound to a different originating message.
func (r *Response) WithRequest(msg *ProxyMessage, src Source) *Response {
	cp := *r
	cp.Payload = bytes.Clone(r.Payload)
	cp.Request = msg
	cp.Source = src
	return &cp
}

// NewErrorResponse synthesizes a payload-less response with the given code.
func NewErrorResponse(code codes.Code, msg *ProxyMessage, src Source) *Response {
	return &Response{
		Code:    code,
		Request: msg,
		Source:  src,
	}
}
