// Package wire implements the Wire Codec (spec.md §4.7): the dual
// JSON/binary framing for Request/Response/Broadcast envelopes
// exchanged over the WebSocket connection.
package wire

import (
	"encoding/json"

	"github.com/ocx/wsgateway/internal/gwerrors"
)

// Request is the client-to-server envelope.
type Request struct {
	PkgID  int32           `json:"pkg_id"`
	ReqID  string          `json:"req_id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Meta carries pagination metadata on a Response.
type Meta struct {
	Page    int32 `json:"page"`
	PerPage int32 `json:"per_page"`
	Total   int32 `json:"total"`
	Pages   int32 `json:"pages"`
}

// Response is the server-to-client envelope.
type Response struct {
	PkgID      int32           `json:"pkg_id"`
	ReqID      string          `json:"req_id"`
	StatusCode int32           `json:"status_code"`
	Data       json.RawMessage `json:"data,omitempty"`
	Meta       *Meta           `json:"meta,omitempty"`
}

// Broadcast is a server-initiated push not tied to a single request.
type Broadcast struct {
	PkgID int32           `json:"pkg_id"`
	ReqID string          `json:"req_id"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewOK builds an OK Response, mirroring the original ok_msg
// constructor: an optional msg string is folded into the data payload.
func NewOK(pkgID int32, reqID string, data map[string]interface{}, msg string) *Response {
	return &Response{
		PkgID:      pkgID,
		ReqID:      reqID,
		StatusCode: gwerrors.StatusOK,
		Data:       encodeData(data, msg),
	}
}

// NewErr builds an error Response with the given status code, mirroring
// the original err_msg constructor.
func NewErr(pkgID int32, reqID string, statusCode int32, data map[string]interface{}, msg string) *Response {
	return &Response{
		PkgID:      pkgID,
		ReqID:      reqID,
		StatusCode: statusCode,
		Data:       encodeData(data, msg),
	}
}

func encodeData(data map[string]interface{}, msg string) json.RawMessage {
	if data == nil && msg == "" {
		return nil
	}
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if msg != "" {
		out["msg"] = msg
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return raw
}
