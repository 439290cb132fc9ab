package jsonrpc

import (
	"encoding/json"
)

// Version is the protocol version carried by every frame.
const Version = "2.0"

// request is the outbound shape for both calls and notifications; a
// notification simply has no id.
type request struct {
	Jsonrpc string  `json:"jsonrpc"`
	Method  string  `json:"method"`
	Params  any     `json:"params"`
	ID      *uint64 `json:"id,omitempty"`
}

// response is the outbound shape for replies to inbound requests. The id is
// always present, null for a parse error with no recoverable id.
type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// inbound is the permissive parse target for anything arriving off the wire.
// Raw fields distinguish absent from null: a nil RawMessage means the key
// was not present at all.
type inbound struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// isReply reports whether the frame is a response to one of our outbound
// calls rather than an inbound request or notification.
func (m *inbound) isReply() bool {
	return m.Method == nil && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// methodName extracts the method as a string, reporting false when the field
// is absent or not a JSON string.
func (m *inbound) methodName() (string, bool) {
	if m.Method == nil {
		return "", false
	}
	var name string
	if err := json.Unmarshal(m.Method, &name); err != nil {
		return "", false
	}
	return name, true
}
