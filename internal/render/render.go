// Package render turns pipeline responses into HTTP responses.
package render

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"coap-gateway/internal/mapping"
	"coap-gateway/internal/model"
)

const htmlContentType = "text/html; charset=utf-8"

const errorPage = `<!DOCTYPE html><html lang=en><head><meta charset=utf-8><title>Error %[1]d</title></head>` +
	`<body><p><b>Error %[1]d</b><p>The requested URL <code>%[2]s</code> produced a problem.</body></html>`

// Rendered is a fully computed HTTP response.
type Rendered struct {
	Status int
	Header http.Header
	Body   []byte
}

// Render computes the HTTP response for resp. A nil resp, or one whose mapped
// status is 300 or above, renders the HTML error page for path.
func Render(resp *model.Response, path string, now time.Time) Rendered {
	if resp == nil {
		return Error(http.StatusInternalServerError, path, now)
	}
	status := mapping.HTTPStatus(resp.Code)
	if status >= http.StatusMultipleChoices {
		return Error(status, path, now)
	}

	r := Rendered{Status: status, Header: make(http.Header)}
	// 204 carries no body on the HTTP side.
	if status != http.StatusNoContent {
		r.Body = resp.Payload
	}
	if resp.HasContentFormat {
		if ct := mapping.ContentType(resp.ContentFormat); ct != "" {
			r.Header.Set("Content-Type", ct)
		}
	}
	r.setCommonHeaders(now)
	return r
}

// Error renders the HTML error page for status and path.
func Error(status int, path string, now time.Time) Rendered {
	r := Rendered{
		Status: status,
		Header: make(http.Header),
		Body:   ErrorPage(status, path),
	}
	r.Header.Set("Content-Type", htmlContentType)
	r.setCommonHeaders(now)
	return r
}

func (r Rendered) setCommonHeaders(now time.Time) {
	r.Header.Set("Date", now.UTC().Format(http.TimeFormat))
	r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
}

// ErrorPage returns the HTML error body for status and path.
func ErrorPage(status int, path string) []byte {
	return fmt.Appendf(nil, errorPage, status, html.EscapeString(path))
}

// Write sends r to w. Headers already present on w are kept unless r sets them.
func Write(w http.ResponseWriter, r Rendered) error {
	h := w.Header()
	for k, v := range r.Header {
		h[k] = v
	}
	w.WriteHeader(r.Status)
	if len(r.Body) == 0 {
		return nil
	}
	if _, err := w.Write(r.Body); err != nil {
		return fmt.Errorf("write response body: %w", err)
	}
	return nil
}
