package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// Reply is the backend's answer to a submission. A numeric run_id is
// kept as its decimal text.
type Reply struct {
	RunID string `json:"run_id" msgpack:"run_id"`
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

var (
	_ json.Unmarshaler       = (*Reply)(nil)
	_ msgpack.CustomDecoder = (*Reply)(nil)
)

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reply) UnmarshalJSON(data []byte) error {
	var aux struct {
		RunID json.RawMessage `json:"run_id"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	runID, err := jsonRunID(aux.RunID)
	if err != nil {
		return err
	}
	*r = Reply{RunID: runID, Error: aux.Error}
	return nil
}

func jsonRunID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("run_id must be a string or a number: %w", err)
	}
	return n.String(), nil
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (r *Reply) DecodeMsgpack(dec *msgpack.Decoder) error {
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	runID, err := msgpackRunID(m["run_id"])
	if err != nil {
		return err
	}
	msg, _ := m["error"].(string)
	*r = Reply{RunID: runID, Error: msg}
	return nil
}

func msgpackRunID(v any) (string, error) {
	switch n := v.(type) {
	case nil:
		return "", nil
	case string:
		return n, nil
	case int8:
		return strconv.FormatInt(int64(n), 10), nil
	case int16:
		return strconv.FormatInt(int64(n), 10), nil
	case int32:
		return strconv.FormatInt(int64(n), 10), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case uint8:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint64:
		return strconv.FormatUint(n, 10), nil
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("run_id must be a string or a number, got %T", v)
	}
}

// Codec serializes submissions and replies.
type Codec interface {
	Encode(p Params) ([]byte, error)
	Decode(data []byte) (*Reply, error)

	// ContentType is sent as the request's Content-Type and Accept.
	ContentType() string

	// Name identifies the codec in configuration.
	Name() string
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Unknown names yield JSON.
func GetCodec(name string) Codec {
	if name == CodecNameMsgpack {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// JSONCodec is the default wire format.
type JSONCodec struct{}

func (JSONCodec) Encode(p Params) ([]byte, error) { return json.Marshal(p) }

func (JSONCodec) Decode(data []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (JSONCodec) ContentType() string { return "application/json" }
func (JSONCodec) Name() string        { return CodecNameJSON }

// MsgpackCodec encodes submissions as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(p Params) ([]byte, error) { return msgpack.Marshal(p) }

func (MsgpackCodec) Decode(data []byte) (*Reply, error) {
	var r Reply
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (MsgpackCodec) ContentType() string { return "application/msgpack" }
func (MsgpackCodec) Name() string        { return CodecNameMsgpack }
