package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/Slach/logs-insights/pkg/backend"
)

// ErrUnknownMessage is returned for envelopes with an unsupported type.
var ErrUnknownMessage = errors.New("unknown message type")

// Envelope is the wire form of every message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Timestamp is a record timestamp as sent by views: either a JSON string
// ("2022-01-09 03:13:56.962") or a number of epoch milliseconds.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "timestamp must be a string or a number")
	}
	if _, err := n.Int64(); err == nil {
		*t = Timestamp(n.String())
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return errors.Wrap(err, "timestamp out of range")
	}
	*t = Timestamp(strconv.FormatInt(int64(f), 10))
	return nil
}

// DecodeInbound parses one view message.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode message envelope")
	}
	decodePayload := func(v any) error {
		if len(env.Payload) == 0 || string(env.Payload) == "null" {
			return errors.Errorf("message %s requires a payload", env.Type)
		}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return errors.Wrapf(err, "decode %s payload", env.Type)
		}
		return nil
	}

	switch env.Type {
	case TypeExecute:
		return Execute{}, nil
	case TypeStop:
		return Stop{}, nil
	case TypeSelect:
		return Select{}, nil
	case TypeQuery:
		var m QueryEdit
		if err := decodePayload(&m.Query); err != nil {
			return nil, err
		}
		return m, nil
	case TypeExpand:
		var m Expand
		if err := decodePayload(&m); err != nil {
			return nil, err
		}
		if m.ID == "" {
			return nil, errors.New("expand requires an id")
		}
		return m, nil
	case TypeOpenRequest:
		var m OpenRequest
		if err := decodePayload(&m); err != nil {
			return nil, err
		}
		if m.ID == "" {
			return nil, errors.New("open_request requires an id")
		}
		return m, nil
	}
	return nil, errors.Wrapf(ErrUnknownMessage, "%q", env.Type)
}

// EncodeInbound renders a view message; used by views written in Go.
func EncodeInbound(msg Inbound) ([]byte, error) {
	var payload any
	switch m := msg.(type) {
	case QueryEdit:
		payload = m.Query
	case Expand, OpenRequest:
		payload = m
	}
	return encode(msg.Type(), payload)
}

// EncodeOutbound renders a session message.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	var payload any
	switch m := msg.(type) {
	case QuerySnapshot:
		payload = m.Query
	case Result:
		page := m.Page
		if page.Results == nil {
			page.Results = []backend.Record{}
		}
		payload = page
	case ExpandResult:
		payload = m
	default:
		return nil, errors.Wrapf(ErrUnknownMessage, "%T", msg)
	}
	return encode(msg.Type(), payload)
}

func encode(kind string, payload any) ([]byte, error) {
	env := Envelope{Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s payload", kind)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// DecodeOutbound parses one session message; used by Go views and tests.
func DecodeOutbound(data []byte) (Outbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode message envelope")
	}
	switch env.Type {
	case TypeQuery:
		var m QuerySnapshot
		if err := json.Unmarshal(env.Payload, &m.Query); err != nil {
			return nil, errors.Wrap(err, "decode query payload")
		}
		return m, nil
	case TypeResult:
		var m Result
		if err := json.Unmarshal(env.Payload, &m.Page); err != nil {
			return nil, errors.Wrap(err, "decode result payload")
		}
		return m, nil
	case TypeExpandResult:
		var m ExpandResult
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, errors.Wrap(err, "decode expand_result payload")
		}
		return m, nil
	}
	return nil, errors.Wrapf(ErrUnknownMessage, "%q", env.Type)
}
