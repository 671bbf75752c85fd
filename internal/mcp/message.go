package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RequestID holds a request id exactly as it appeared on the wire. JSON-RPC allows
// string and number ids; keeping the original bytes means a response echoes the id
// with its type intact, so a client that sent id 1 gets id 1 back, not "1".
type RequestID struct {
	raw json.RawMessage
}

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in the MCP
// protocol. It can represent either a request, response, or notification depending on
// which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and exactly one of Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification.
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number.
	// It is nil for notifications, and for the one response case the protocol mandates
	// a null id: the reply to a payload that could not be parsed at all.
	ID *RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications.
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message.
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message.
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed.
	Error *JSONRPCError `json:"error,omitempty"`
}

// DecodeMessage parses a single raw JSON-RPC frame.
//
// A syntactically invalid payload yields a JSONRPCError with code CodeParseError and no
// id. Well-formed JSON that violates the envelope rules (a non-object payload, missing
// "jsonrpc": "2.0", a request without a method, or a response carrying both result and
// error) yields CodeInvalidRequest; in that case the partially decoded message is
// returned alongside the error so callers can still correlate the reply when the id
// survived decoding.
func DecodeMessage(data []byte) (JSONRPCMessage, error) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return JSONRPCMessage{}, parseError(err.Error())
		}
		// Valid JSON of the wrong shape, such as an array payload or a non-string
		// method: the envelope is invalid, not the JSON. Fields decoded before the
		// mismatch survive, so the id is still usable when it was well-formed.
		return msg, invalidRequestError(err.Error())
	}
	if msg.JSONRPC != JSONRPCVersion {
		return msg, invalidRequestError(fmt.Sprintf("jsonrpc version must be %q", JSONRPCVersion))
	}
	if msg.Result != nil && msg.Error != nil {
		return msg, invalidRequestError("response carries both result and error")
	}
	if msg.Method == "" && msg.Result == nil && msg.Error == nil {
		return msg, invalidRequestError("request has no method")
	}
	return msg, nil
}

// Encode serializes the message for the wire. It never fails for messages constructed
// by this package, since all fields marshal unconditionally.
func (m JSONRPCMessage) Encode() ([]byte, error) {
	bs, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return bs, nil
}

// IsNotification reports whether the message is a request that expects no reply.
func (m JSONRPCMessage) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsRequest reports whether the message is a request that expects a reply.
func (m JSONRPCMessage) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsResponse reports whether the message is a reply to a request.
func (m JSONRPCMessage) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// MarshalJSON implements json.Marshaler. Responses with no id serialize the mandated
// explicit "id": null, while notifications omit the field entirely.
func (m JSONRPCMessage) MarshalJSON() ([]byte, error) {
	type omitEmptyID struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *RequestID      `json:"id,omitempty"`
		Method  string          `json:"method,omitempty"`
		Params  json.RawMessage `json:"params,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *JSONRPCError   `json:"error,omitempty"`
	}
	type nullID struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *RequestID      `json:"id"`
		Method  string          `json:"method,omitempty"`
		Params  json.RawMessage `json:"params,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *JSONRPCError   `json:"error,omitempty"`
	}

	if m.ID == nil && m.Method == "" {
		return json.Marshal(nullID{m.JSONRPC, nil, m.Method, m.Params, m.Result, m.Error})
	}
	return json.Marshal(omitEmptyID{m.JSONRPC, m.ID, m.Method, m.Params, m.Result, m.Error})
}

// UnmarshalJSON implements json.Unmarshaler. It accepts string and number ids and
// retains the wire bytes unmodified.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty request id")
	}

	switch c := trimmed[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
	default:
		return fmt.Errorf("request id must be a string or number, got %s", trimmed)
	}

	id.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// MarshalJSON implements json.Marshaler, emitting the exact bytes the id arrived with.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// String returns the id without JSON quoting, for log fields and error data.
func (id *RequestID) String() string {
	if id == nil || len(id.raw) == 0 {
		return ""
	}
	if id.raw[0] == '"' {
		var s string
		if json.Unmarshal(id.raw, &s) == nil {
			return s
		}
	}
	return string(id.raw)
}

// key returns a correlation-table key. Unlike String it keeps the JSON quoting, so the
// string id "1" and the number id 1 never collide.
func (id *RequestID) key() string {
	if id == nil {
		return ""
	}
	return string(id.raw)
}

// messageID is a convenience constructor for string request ids.
func messageID(s string) *RequestID {
	raw, _ := json.Marshal(s)
	return &RequestID{raw: raw}
}

// newResultResponse builds a success response correlated to the given id.
func newResultResponse(id *RequestID, result any) JSONRPCMessage {
	resBs, _ := json.Marshal(result)
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}
}

// newErrorResponse builds an error response correlated to the given id. A nil id yields
// the protocol-mandated "id": null reply used for unparseable requests.
func newErrorResponse(id *RequestID, err *JSONRPCError) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}
