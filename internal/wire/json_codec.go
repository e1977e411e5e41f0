package wire

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// JSONCodec encodes envelopes as plain JSON text frames.
type JSONCodec struct{}

func (JSONCodec) DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("wire: decode json request: %w", err)
	}
	return &req, nil
}

func (JSONCodec) EncodeResponse(r *Response) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode json response: %w", err)
	}
	return b, nil
}

func (JSONCodec) EncodeBroadcast(b *Broadcast) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("wire: encode json broadcast: %w", err)
	}
	return raw, nil
}

func (JSONCodec) MessageType() int { return websocket.TextMessage }
