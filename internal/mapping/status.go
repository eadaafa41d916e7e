// Package mapping translates between HTTP and CoAP vocabularies: response
// codes, request methods and content formats.
package mapping

import (
	"fmt"
	"net/http"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"coap-gateway/internal/model"
)

// Unmapped is returned by TranslateStatus for codes outside the table.
const Unmapped = 0

// statusTable is the fixed CoAP response code to HTTP status table.
// 4.02 Bad Option -> 402 and 4.08 Request Entity Incomplete -> 408 are kept
// as deployed clients expect them.
var statusTable = map[codes.Code]int{
	codes.Created: http.StatusCreated,
	codes.Deleted: http.StatusNoContent,
	codes.Valid:   http.StatusAccepted,
	codes.Changed: http.StatusResetContent,
	codes.Content: http.StatusOK,

	codes.BadRequest:              http.StatusBadRequest,
	codes.Unauthorized:            http.StatusUnauthorized,
	codes.BadOption:               http.StatusPaymentRequired,
	codes.Forbidden:               http.StatusForbidden,
	codes.NotFound:                http.StatusNotFound,
	codes.MethodNotAllowed:        http.StatusMethodNotAllowed,
	codes.NotAcceptable:           http.StatusNotAcceptable,
	codes.RequestEntityIncomplete: http.StatusRequestTimeout,
	codes.PreconditionFailed:      http.StatusPreconditionFailed,
	codes.RequestEntityTooLarge:   http.StatusRequestEntityTooLarge,
	codes.UnsupportedMediaType:    http.StatusUnsupportedMediaType,

	codes.InternalServerError:  http.StatusInternalServerError,
	codes.NotImplemented:       http.StatusNotImplemented,
	codes.BadGateway:           http.StatusBadGateway,
	codes.ServiceUnavailable:   http.StatusServiceUnavailable,
	codes.GatewayTimeout:       http.StatusGatewayTimeout,
	codes.ProxyingNotSupported: http.StatusHTTPVersionNotSupported,
}

// TranslateStatus returns the HTTP status for a CoAP response code, or
// Unmapped when the code is not in the table.
func TranslateStatus(code codes.Code) int {
	if s, ok := statusTable[code]; ok {
		return s
	}
	return Unmapped
}

// HTTPStatus is TranslateStatus with Unmapped rendered as 500.
func HTTPStatus(code codes.Code) int {
	if s := TranslateStatus(code); s != Unmapped {
		return s
	}
	return http.StatusInternalServerError
}

// TargetMethod returns the CoAP method used for an inbound method.
// DISCOVER and OBSERVE are sent as plain GET requests.
func TargetMethod(m model.Method) (codes.Code, error) {
	switch m {
	case model.MethodGet, model.MethodDiscover, model.MethodObserve:
		return codes.GET, nil
	case model.MethodPost:
		return codes.POST, nil
	case model.MethodPut:
		return codes.PUT, nil
	case model.MethodDelete:
		return codes.DELETE, nil
	default:
		return 0, fmt.Errorf("%w: %v", model.ErrUnsupportedMethod, m)
	}
}

// Dotted formats a CoAP code in class.detail notation, e.g. 2.05.
func Dotted(code codes.Code) string {
	return fmt.Sprintf("%d.%02d", code>>5, code&0x1f)
}
