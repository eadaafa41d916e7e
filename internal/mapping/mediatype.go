package mapping

import (
	"strings"

	"github.com/plgd-dev/go-coap/v3/message"
)

var mediaTypes = map[string]message.MediaType{
	"text/plain":                   message.TextPlain,
	"application/link-format":      message.AppLinkFormat,
	"application/xml":              message.AppXML,
	"application/octet-stream":     message.AppOctets,
	"application/exi":              message.AppExi,
	"application/json":             message.AppJSON,
	"application/json-patch+json":  message.AppJSONPatch,
	"application/merge-patch+json": message.AppJSONMergePatch,
	"application/cbor":             message.AppCBOR,
}

var contentTypes = func() map[message.MediaType]string {
	m := make(map[message.MediaType]string, len(mediaTypes))
	for ct, mt := range mediaTypes {
		m[mt] = ct
	}
	return m
}()

// MediaType returns the CoAP content format for a MIME type. The second result
// is false when the type is empty or has no registered content format.
func MediaType(contentType string) (message.MediaType, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return 0, false
	}
	mt, ok := mediaTypes[ct]
	return mt, ok
}

// ContentType returns the MIME type for a CoAP content format, or "" when unknown.
func ContentType(mt message.MediaType) string {
	return contentTypes[mt]
}
