package wire

// Format names the negotiated wire format for a connection, selected by
// the `?format=` query parameter on the /web upgrade request.
type Format string

const (
	FormatJSON   Format = "json"
	FormatBinary Format = "binary"
)

// Codec encodes/decodes the Request/Response envelopes to/from the byte
// payload carried by a single WebSocket message.
type Codec interface {
	// DecodeRequest parses a single incoming WS message into a Request.
	DecodeRequest(payload []byte) (*Request, error)
	// EncodeResponse serializes a Response into a WS message payload.
	EncodeResponse(r *Response) ([]byte, error)
	// EncodeBroadcast serializes a Broadcast into a WS message payload.
	EncodeBroadcast(b *Broadcast) ([]byte, error)
	// MessageType returns the gorilla/websocket message type this codec
	// expects to send/receive (websocket.TextMessage or BinaryMessage).
	MessageType() int
}

// ForFormat returns the Codec implementation for the negotiated format,
// defaulting to JSON for an empty or unrecognized value — the same
// fallback the original endpoint applies to an invalid `format` query
// parameter.
func ForFormat(f Format) Codec {
	if f == FormatBinary {
		return BinaryCodec{}
	}
	return JSONCodec{}
}
