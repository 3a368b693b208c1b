// Package rpc defines the JSON-RPC 2.0 control-plane message types and the
// correlation table that ties each request to exactly one response.
package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Version is the JSON-RPC protocol version carried in every message.
const Version = "2.0"

// Well-known JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one control-plane request. ID is the correlation identity;
// if the caller does not supply one, the gateway generates it.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response is the single terminal outcome of a request: exactly one of
// Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// MarshalBody serializes the response to its wire form.
func (r *Response) MarshalBody() ([]byte, error) {
	return json.Marshal(r)
}

// Error is a structured method-level error returned by the remote side.
// It is passed through to the caller verbatim and never conflated with a
// transport failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var idCounter uint64

// NextID generates a process-unique correlation identity.
func NextID() string {
	return "c" + strconv.FormatUint(atomic.AddUint64(&idCounter, 1), 10)
}

// ParseRequest decodes a request body. A missing correlation identity is
// filled in with a generated one; a missing method is an error.
func ParseRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("request has no method")
	}
	if req.ID == "" {
		req.ID = NextID()
	}
	req.JSONRPC = Version
	return &req, nil
}

// NewRequest builds a request for the given method, marshaling params. A
// correlation identity is generated.
func NewRequest(method string, params interface{}) (*Request, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}
	return &Request{JSONRPC: Version, Method: method, Params: raw, ID: NextID()}, nil
}

// NewResult builds a successful response correlated to req.
func NewResult(req *Request, result interface{}) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, Result: b, ID: req.ID}, nil
}

// NewError builds an error response correlated to req.
func NewError(req *Request, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &Error{Code: code, Message: message},
		ID:      req.ID,
	}
}
