package handler

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"coap-gateway/internal/model"
)

// buildMessage converts the inbound request into a ProxyMessage. Only an
// unrecognized method fails; body problems leave the body absent.
func buildMessage(c echo.Context, logger *slog.Logger) (*model.ProxyMessage, error) {
	req := c.Request()

	method, err := model.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}

	path := req.URL.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = req.Header.Get(echo.HeaderXRequestID)
	}

	return model.NewProxyMessage(model.MessageParams{
		Method:      method,
		Path:        path,
		Fragment:    req.URL.Fragment,
		RemoteAddr:  req.RemoteAddr,
		ContentType: req.Header.Get(echo.HeaderContentType),
		Header:      req.Header,
		Body:        readFirstLine(req, logger),
		RequestID:   requestID,
	}), nil
}

// readFirstLine returns the first line of the request body without its line
// terminator, or nil when there is no body or it is not valid UTF-8 text.
func readFirstLine(req *http.Request, logger *slog.Logger) []byte {
	if req.Body == nil || req.Body == http.NoBody || req.ContentLength == 0 {
		return nil
	}

	line, err := bufio.NewReader(req.Body).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("request body unreadable; treating as absent", "path", req.URL.Path, "err", err)
		return nil
	}
	if len(line) == 0 {
		return nil
	}

	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !utf8.Valid(line) {
		logger.Debug("request body is not UTF-8 text; treating as absent", "path", req.URL.Path)
		return nil
	}
	return line
}
