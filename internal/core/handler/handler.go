// Package handler is the per-request entry point of the proxy: it decodes
// the client's JSON-RPC envelope, forwards it upstream and routes failed
// getblock calls through pruned-block recovery.
package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"btcproxy/internal/core/counters"
	"btcproxy/internal/shared/logger"
	"btcproxy/internal/shared/types"
)

// Recoverer is the part of recovery.Recovery the handler depends on.
type Recoverer interface {
	Recoverable(resp *types.Response) bool
	Recover(ctx context.Context, hash string, origReq *types.Request, origParams []json.RawMessage, failed *types.Response) (*types.Response, error)
}

// Options tunes how getblock is forwarded on its first attempt.
type Options struct {
	// ForwardVerbosity sends the caller's verbosity with the first getblock.
	// When false only the block hash is forwarded.
	ForwardVerbosity bool
}

// Handler turns one request body into one response body.
type Handler struct {
	caller    types.Caller
	recoverer Recoverer
	counters  *counters.Counters
	opts      Options
	log       zerolog.Logger
}

// New creates a Handler.
func New(caller types.Caller, recoverer Recoverer, c *counters.Counters, opts Options) *Handler {
	return &Handler{
		caller:    caller,
		recoverer: recoverer,
		counters:  c,
		opts:      opts,
		log:       logger.WithComponent("Handler"),
	}
}

// Handle processes one raw request body and always returns a valid JSON-RPC
// response body: either bitcoind's answer byte-for-byte or an error
// envelope produced by the proxy.
func (h *Handler) Handle(ctx context.Context, body []byte) []byte {
	n := h.counters.IncRequests()

	req, err := types.DecodeRequest(body)
	if err != nil {
		code := types.CodeParseError
		var reqErr *types.RequestError
		if errors.As(err, &reqErr) {
			code = reqErr.Code
		}
		h.log.Warn().Err(err).Uint64("request", n).Msg("Rejected malformed request.")
		return types.ErrorBody(nil, code, err.Error())
	}

	if req.Method != types.MethodGetTxOut {
		h.log.Info().Uint64("request", n).Str("method", req.Method).RawJSON("params", req.Params).Msg("-> Incoming request")
	}

	var resp *types.Response
	if req.Method == types.MethodGetBlock {
		resp, err = h.getBlock(ctx, req)
	} else {
		resp, err = h.caller.Call(ctx, req)
	}
	if err != nil {
		h.log.Error().Err(err).Str("method", req.Method).Msg("Error forwarding request.")
		return types.ErrorBody(req.ID, types.CodeInternalError, err.Error())
	}
	return resp.Raw
}

func (h *Handler) getBlock(ctx context.Context, req *types.Request) (*types.Response, error) {
	params, err := req.ParamList()
	if err != nil || len(params) == 0 {
		// Nothing to recover without a hash; let bitcoind explain the problem.
		return h.caller.Call(ctx, req)
	}
	var hash string
	if err := json.Unmarshal(params[0], &hash); err != nil {
		return h.caller.Call(ctx, req)
	}

	first := params[:1]
	if h.opts.ForwardVerbosity && len(params) > 1 {
		first = params[:2]
	}
	firstReq, err := types.WithParams(req, first)
	if err != nil {
		return nil, err
	}

	resp, err := h.caller.Call(ctx, firstReq)
	if err != nil {
		return nil, err
	}
	if !resp.Failed() {
		return resp, nil
	}

	h.log.Debug().Str("block", hash).RawJSON("error", resp.Error).Msg("Cannot retrieve block from bitcoind.")
	if !h.recoverer.Recoverable(resp) {
		h.log.Error().Str("block", hash).RawJSON("error", resp.Error).Msg("Unexpected getblock error.")
		return resp, nil
	}
	return h.recoverer.Recover(ctx, hash, req, params, resp)
}
