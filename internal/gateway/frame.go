package gateway

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"nhooyr.io/websocket"
)

const (
	frameAuth      = "auth"
	frameConnected = "connected"
	frameUpdate    = "update"
	framePing      = "ping"
	framePong      = "pong"
	frameError     = "error"
)

// Frame is the envelope exchanged with local telemetry clients. Text
// messages carry it as JSON and binary messages as CBOR.
type Frame struct {
	Type        string          `json:"type"`
	Token       string          `json:"token,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	RoomID      string          `json:"roomId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// binaryFrame mirrors Frame for CBOR. Data decodes into plain Go values
// and is re-encoded as JSON so the snapshot store sees one format.
type binaryFrame struct {
	Type        string `cbor:"type"`
	Token       string `cbor:"token,omitempty"`
	Data        any    `cbor:"data,omitempty"`
	RoomID      string `cbor:"roomId,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
	Message     string `cbor:"message,omitempty"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("gateway: CBOR encoder initialization failed: " + err.Error())
	}

	// Snapshot payloads are JSON documents, so maps must decode with
	// string keys for encoding/json to accept them.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("gateway: CBOR decoder initialization failed: " + err.Error())
	}
}

func decodeFrame(typ websocket.MessageType, data []byte) (*Frame, error) {
	if typ == websocket.MessageText {
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode json frame: %w", err)
		}
		return &f, nil
	}

	var bf binaryFrame
	if err := cborDec.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("decode cbor frame: %w", err)
	}

	f := &Frame{
		Type:        bf.Type,
		Token:       bf.Token,
		RoomID:      bf.RoomID,
		DisplayName: bf.DisplayName,
		Message:     bf.Message,
	}
	if bf.Data != nil {
		payload, err := json.Marshal(bf.Data)
		if err != nil {
			return nil, fmt.Errorf("re-encode cbor data: %w", err)
		}
		f.Data = payload
	}
	return f, nil
}

// encodeFrame answers in the encoding the client used.
func encodeFrame(typ websocket.MessageType, f Frame) ([]byte, error) {
	if typ == websocket.MessageText {
		return json.Marshal(f)
	}

	bf := binaryFrame{
		Type:        f.Type,
		Token:       f.Token,
		RoomID:      f.RoomID,
		DisplayName: f.DisplayName,
		Message:     f.Message,
	}
	if len(f.Data) > 0 {
		var data any
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return nil, fmt.Errorf("decode frame data: %w", err)
		}
		bf.Data = data
	}
	return cborEnc.Marshal(bf)
}
