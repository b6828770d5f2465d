package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Version is the value of the "jsonrpc" member of every envelope.
const Version = "2.0"

// Request is a JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// MarshalJSON fills in the version and encodes a nil parameter list as [].
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	if r.JSONRPC == "" {
		r.JSONRPC = Version
	}
	if r.Params == nil {
		r.Params = []any{}
	}
	return json.Marshal(plain(r))
}

// Response is a JSON-RPC 2.0 reply. Exactly one of Result and Error is meaningful.
// Result is kept raw and may hold the literal null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`

	// Request is the call this response answers. Transports attach it before the
	// response pipeline runs. It is never serialized.
	Request *Request `json:"-"`
}

// UnmarshalJSON accepts a null id, which servers send with parse errors.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *uint64         `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Response{JSONRPC: raw.JSONRPC, Result: raw.Result, Error: raw.Error}
	if raw.ID != nil {
		r.ID = *raw.ID
	}
	return nil
}

// HasResult reports whether the response carried a "result" member, including null.
func (r Response) HasResult() bool { return len(r.Result) > 0 }

// IsNullResult reports whether the result is absent or the literal null.
func (r Response) IsNullResult() bool {
	return len(r.Result) == 0 || bytes.Equal(bytes.TrimSpace(r.Result), []byte("null"))
}

// Err returns the protocol error carried by the response, or nil.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Decode unmarshals the result into v. It returns the protocol error first when one is present.
func (r Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Result) == 0 {
		return fmt.Errorf("%w: missing result", ErrInvalidResponse)
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

// Validate checks that the response answers req.
func (r Response) Validate(req Request) error {
	if r.ID != req.ID {
		return fmt.Errorf("%w: sent %d, got %d", ErrMismatchedID, req.ID, r.ID)
	}
	if r.Error == nil && !r.HasResult() {
		return fmt.Errorf("%w: neither result nor error", ErrInvalidResponse)
	}
	return nil
}

// NewResult builds a successful response to id.
func NewResult(id uint64, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response to id.
func NewErrorResponse(id uint64, err *Error) Response {
	return Response{JSONRPC: Version, ID: id, Error: err}
}

// Notification is a server-initiated message without an id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IDGenerator hands out strictly increasing request IDs starting at 1. It is safe for
// concurrent use and never resets.
type IDGenerator struct {
	last atomic.Uint64
}

// NewIDGenerator returns a generator whose first ID is 1.
func NewIDGenerator() *IDGenerator { return &IDGenerator{} }

// Next returns the next ID.
func (g *IDGenerator) Next() uint64 { return g.last.Add(1) }

// NewRequest builds a request with the next ID.
func (g *IDGenerator) NewRequest(method string, params ...any) Request {
	if params == nil {
		params = []any{}
	}
	return Request{JSONRPC: Version, ID: g.Next(), Method: method, Params: params}
}
