// Package upstream sends single JSON-RPC calls to the bitcoind the proxy fronts.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"btcproxy/internal/shared/logger"
	"btcproxy/internal/shared/types"
)

// maxResponseSize bounds a single upstream body. Verbose getblock answers
// for large blocks stay well below this.
const maxResponseSize = 256 << 20

// Endpoint is the immutable upstream address and credential.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string

	// Socks5 is an optional SOCKS5 proxy address used to reach Host.
	Socks5 string
}

// URL returns the HTTP address requests are posted to.
func (e Endpoint) URL() string {
	return "http://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + "/"
}

// TransportError means the call never produced a JSON-RPC answer:
// the connection failed, timed out, or the body was not a JSON-RPC object.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream call %s failed: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client posts JSON-RPC requests to one Endpoint with basic auth.
// It never retries.
type Client struct {
	endpoint   Endpoint
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ types.Caller = (*Client)(nil)

// New creates a Client. timeout bounds a whole call; zero disables it.
func New(endpoint Endpoint, timeout time.Duration) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if endpoint.Socks5 != "" {
		dialer, err := proxy.SOCKS5("tcp", endpoint.Socks5, nil, &net.Dialer{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", endpoint.Socks5)
		}
		transport.Proxy = nil
		transport.DialContext = contextDialer.DialContext
	}
	return &Client{
		endpoint: endpoint,
		url:      endpoint.URL(),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		log: logger.WithComponent("Upstream"),
	}, nil
}

// Call sends req and returns the parsed answer. bitcoind reports RPC errors
// with non-2xx statuses and a JSON body, so the status code alone is not a
// transport failure.
func (c *Client) Call(ctx context.Context, req *types.Request) (*types.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Method: req.Method, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.endpoint.User, c.endpoint.Password)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Method: req.Method, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	resp, err := types.ParseResponse(body)
	if err != nil {
		return nil, &TransportError{
			Method: req.Method,
			Err:    fmt.Errorf("HTTP %d: %w", httpResp.StatusCode, err),
		}
	}

	c.log.Debug().
		Str("method", req.Method).
		Int("status", httpResp.StatusCode).
		Int("bytes", len(body)).
		Bool("failed", resp.Failed()).
		Msg("Upstream response received.")
	return resp, nil
}
