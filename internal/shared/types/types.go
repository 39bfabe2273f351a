package types

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Standard JSON-RPC error codes used for errors produced by the proxy itself.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInternalError  = -32603
)

// Method names the proxy interprets. Everything else passes through untouched.
const (
	MethodGetBlock         = "getblock"
	MethodGetPeerInfo      = "getpeerinfo"
	MethodGetBlockFromPeer = "getblockfrompeer"
	MethodGetTxOut         = "gettxout"

	MethodGetBlockchainInfo = "getblockchaininfo"
)

var nullJSON = []byte("null")

// Caller issues a single JSON-RPC call to bitcoind.
// A non-nil error means the call never produced a JSON-RPC answer.
type Caller interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// Request is a JSON-RPC request envelope. JSONRPC and ID are only sent
// upstream when the client supplied them.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// NewRequest builds a request with positional params marshalled from values.
func NewRequest(method string, params ...any) (*Request, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		if m, ok := p.(json.RawMessage); ok {
			raw = append(raw, m)
			continue
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal param for %s: %w", method, err)
		}
		raw = append(raw, b)
	}
	return WithParams(&Request{Method: method}, raw)
}

// WithParams returns a copy of req carrying the given positional params.
func WithParams(req *Request, params []json.RawMessage) (*Request, error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params for %s: %w", req.Method, err)
	}
	out := *req
	out.Params = b
	return &out, nil
}

// ParamList decodes Params as a positional list. Absent or null params are an empty list.
func (r *Request) ParamList() ([]json.RawMessage, error) {
	if isNull(r.Params) {
		return []json.RawMessage{}, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(r.Params, &list); err != nil {
		return nil, fmt.Errorf("params of %s are not a list: %w", r.Method, err)
	}
	return list, nil
}

// RequestError is returned by DecodeRequest; Code is the JSON-RPC code to answer with.
type RequestError struct {
	Code int
	Err  error
}

func (e *RequestError) Error() string { return e.Err.Error() }
func (e *RequestError) Unwrap() error { return e.Err }

// DecodeRequest parses an inbound body. A missing method becomes "" and
// missing params become []. Any other params value, named params included,
// is kept verbatim for bitcoind to judge.
func DecodeRequest(body []byte) (*Request, error) {
	if !json.Valid(body) {
		return nil, &RequestError{Code: CodeParseError, Err: errors.New("parse error: body is not valid JSON")}
	}
	if t := bytes.TrimSpace(body); t[0] != '{' {
		return nil, &RequestError{Code: CodeInvalidRequest, Err: errors.New("invalid request: body must be a JSON object")}
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &RequestError{Code: CodeInvalidRequest, Err: fmt.Errorf("invalid request: %w", err)}
	}
	if isNull(req.Params) {
		req.Params = json.RawMessage("[]")
	}
	return &req, nil
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response is a parsed JSON-RPC response. Raw keeps the exact bytes bitcoind
// sent so pass-through answers are byte-for-byte identical.
type Response struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	ID     json.RawMessage `json:"id,omitempty"`
	Raw    []byte          `json:"-"`
}

// ParseResponse parses a JSON-RPC response body. The body must be a JSON object.
func ParseResponse(body []byte) (*Response, error) {
	if t := bytes.TrimSpace(body); len(t) == 0 || t[0] != '{' {
		return nil, errors.New("malformed JSON-RPC response: body is not a JSON object")
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed JSON-RPC response: %w", err)
	}
	resp.Raw = body
	return &resp, nil
}

// Failed reports whether the response carries a non-null error, whatever result holds.
func (r *Response) Failed() bool {
	return !isNull(r.Error)
}

// RPCError decodes the error object. It returns nil when there is none or
// when it is not shaped as {code, message}.
func (r *Response) RPCError() *RPCError {
	if !r.Failed() {
		return nil
	}
	var e RPCError
	if err := json.Unmarshal(r.Error, &e); err != nil {
		return nil
	}
	return &e
}

// ErrorBody renders a JSON-RPC error response produced by the proxy.
func ErrorBody(id json.RawMessage, code int, message string) []byte {
	body, err := json.Marshal(struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
		ID     json.RawMessage `json:"id"`
	}{
		Error: &RPCError{Code: code, Message: message},
		ID:    id,
	})
	if err != nil {
		// id came from a parsed request, so only a broken id can get here.
		return []byte(fmt.Sprintf(`{"result":null,"error":{"code":%d,"message":%q},"id":null}`, code, message))
	}
	return body
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, nullJSON)
}
