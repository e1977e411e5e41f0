package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
)

// Binary frame layout, generalized from the teacher's AOCS header
// field-by-field binary.Write style to the Request/Response envelope:
//
//	magic[2]byte version_major[1]byte version_minor[1]byte msg_type[1]byte
//	followed by the envelope fields: integers as fixed-width BigEndian
//	values, strings and byte payloads length-prefixed (uint32 BigEndian).
var (
	binMagic        = [2]byte{0x0C, 0x58}
	binVersionMajor uint8 = 1
	binVersionMinor uint8 = 0
)

const (
	binMsgTypeRequest  uint8 = 1
	binMsgTypeResponse uint8 = 2
)

// BinaryCodec encodes envelopes as length-delimited binary frames
// carrying a nested JSON payload string for the Data field.
type BinaryCodec struct{}

func (BinaryCodec) MessageType() int { return websocket.BinaryMessage }

func (BinaryCodec) DecodeRequest(payload []byte) (*Request, error) {
	r := bytes.NewReader(payload)

	var magic [2]byte
	var verMajor, verMinor, msgType uint8
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("wire: binary request: read magic: %w", err)
	}
	if magic != binMagic {
		return nil, fmt.Errorf("wire: binary request: invalid magic bytes %x", magic)
	}
	if err := binary.Read(r, binary.BigEndian, &verMajor); err != nil {
		return nil, fmt.Errorf("wire: binary request: read version major: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &verMinor); err != nil {
		return nil, fmt.Errorf("wire: binary request: read version minor: %w", err)
	}
	if verMajor != binVersionMajor {
		return nil, fmt.Errorf("wire: binary request: unsupported version %d", verMajor)
	}
	if err := binary.Read(r, binary.BigEndian, &msgType); err != nil {
		return nil, fmt.Errorf("wire: binary request: read msg type: %w", err)
	}
	if msgType != binMsgTypeRequest {
		return nil, fmt.Errorf("wire: binary request: unexpected msg type %d", msgType)
	}

	var pkgID int32
	if err := binary.Read(r, binary.BigEndian, &pkgID); err != nil {
		return nil, fmt.Errorf("wire: binary request: read pkg_id: %w", err)
	}
	reqID, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("wire: binary request: read req_id: %w", err)
	}
	method, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("wire: binary request: read method: %w", err)
	}
	dataJSON, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("wire: binary request: read data: %w", err)
	}

	var data json.RawMessage
	if dataJSON != "" {
		data = json.RawMessage(dataJSON)
	}

	return &Request{PkgID: pkgID, ReqID: reqID, Method: method, Data: data}, nil
}

func (BinaryCodec) EncodeResponse(resp *Response) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeHeader(buf, binMsgTypeResponse); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, resp.PkgID); err != nil {
		return nil, fmt.Errorf("wire: binary response: write pkg_id: %w", err)
	}
	if err := writeString(buf, resp.ReqID); err != nil {
		return nil, fmt.Errorf("wire: binary response: write req_id: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, resp.StatusCode); err != nil {
		return nil, fmt.Errorf("wire: binary response: write status_code: %w", err)
	}
	if err := writeString(buf, string(resp.Data)); err != nil {
		return nil, fmt.Errorf("wire: binary response: write data: %w", err)
	}

	if resp.Meta != nil {
		if err := binary.Write(buf, binary.BigEndian, uint8(1)); err != nil {
			return nil, err
		}
		for _, v := range []int32{resp.Meta.Page, resp.Meta.PerPage, resp.Meta.Total, resp.Meta.Pages} {
			if err := binary.Write(buf, binary.BigEndian, v); err != nil {
				return nil, fmt.Errorf("wire: binary response: write meta: %w", err)
			}
		}
	} else {
		if err := binary.Write(buf, binary.BigEndian, uint8(0)); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (BinaryCodec) EncodeBroadcast(b *Broadcast) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeHeader(buf, binMsgTypeResponse); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, b.PkgID); err != nil {
		return nil, fmt.Errorf("wire: binary broadcast: write pkg_id: %w", err)
	}
	if err := writeString(buf, b.ReqID); err != nil {
		return nil, fmt.Errorf("wire: binary broadcast: write req_id: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, int32(0)); err != nil { // status_code unused for broadcasts
		return nil, err
	}
	if err := writeString(buf, string(b.Data)); err != nil {
		return nil, fmt.Errorf("wire: binary broadcast: write data: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, uint8(0)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, msgType uint8) error {
	if err := binary.Write(buf, binary.BigEndian, binMagic); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, binVersionMajor); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, binVersionMinor); err != nil {
		return err
	}
	return binary.Write(buf, binary.BigEndian, msgType)
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
