// Package recovery turns a "block not available" getblock failure into a
// peer download followed by a single retry.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"btcproxy/internal/core/counters"
	"btcproxy/internal/shared/logger"
	"btcproxy/internal/shared/types"
)

// Policy decides which failures are recovered and how the retry is issued.
type Policy struct {
	// RecoverableCodes are the bitcoind error codes meaning "block pruned".
	RecoverableCodes []int

	// WaitForDownload is a blind pause between a successful trigger and the retry.
	WaitForDownload time.Duration

	// PreserveVerbosity retries with the caller's verbosity instead of 0.
	PreserveVerbosity bool

	// RetryOnTriggerFailure retries getblock even when getblockfrompeer failed.
	RetryOnTriggerFailure bool

	// Emojis decorates download log lines.
	Emojis bool
}

// PolicyFromConfig builds a Policy from the [app] section.
func PolicyFromConfig(cfg types.AppConf) Policy {
	return Policy{
		RecoverableCodes:      append([]int(nil), cfg.RecoverableCodes...),
		WaitForDownload:       time.Duration(cfg.WaitForDownload) * time.Second,
		PreserveVerbosity:     cfg.PreserveVerbosity,
		RetryOnTriggerFailure: cfg.RetryOnTriggerFailure,
		Emojis:                cfg.LogWithEmojis,
	}
}

type peer struct {
	ID   json.RawMessage `json:"id"`
	Addr string          `json:"addr"`
}

// Recovery orchestrates getpeerinfo, getblockfrompeer and the getblock retry.
// It keeps no per-request state, so one value serves all requests.
type Recovery struct {
	caller   types.Caller
	counters *counters.Counters
	policy   Policy
	codes    map[int]struct{}
	log      zerolog.Logger

	pick func(n int) int
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a Recovery that calls bitcoind through caller and records
// initiated downloads in c.
func New(caller types.Caller, c *counters.Counters, policy Policy) *Recovery {
	codes := make(map[int]struct{}, len(policy.RecoverableCodes))
	for _, code := range policy.RecoverableCodes {
		codes[code] = struct{}{}
	}
	return &Recovery{
		caller:   caller,
		counters: c,
		policy:   policy,
		codes:    codes,
		log:      logger.WithComponent("Recovery"),
		pick:     rand.IntN,
		wait:     sleepContext,
	}
}

// Recoverable reports whether resp failed with one of the recoverable codes.
func (r *Recovery) Recoverable(resp *types.Response) bool {
	rpcErr := resp.RPCError()
	if rpcErr == nil {
		return false
	}
	_, ok := r.codes[rpcErr.Code]
	return ok
}

// Recover handles a failed getblock for hash. origReq and origParams are the
// client's request and its decoded params. The returned response is what the
// client receives; an error means a call never reached bitcoind.
func (r *Recovery) Recover(ctx context.Context, hash string, origReq *types.Request, origParams []json.RawMessage, failed *types.Response) (*types.Response, error) {
	l := r.log.With().Str("block", hash).Logger()

	if !r.Recoverable(failed) || len(origParams) == 0 {
		if rpcErr := failed.RPCError(); rpcErr != nil {
			l.Error().Int("code", rpcErr.Code).Str("message", rpcErr.Message).Msg("Unexpected getblock error, not recovering.")
		} else {
			l.Error().RawJSON("error", failed.Error).Msg("Unexpected getblock error, not recovering.")
		}
		return failed, nil
	}

	l.Debug().Msg("Block not found, might have been pruned; selecting a random peer to download from.")

	peers, err := r.fetchPeers(ctx)
	if err != nil {
		l.Error().Err(err).Msg("Could not list peers, returning original getblock error.")
		return failed, nil
	}
	l.Debug().Int("peers", len(peers)).Msg("Got peer list.")
	if len(peers) == 0 {
		l.Error().Msg("No peers to download from found. Is bitcoind connected to the internet?")
		return failed, nil
	}

	p := peers[r.pick(len(peers))]
	l = l.With().RawJSON("peer_id", p.ID).Str("peer_addr", p.Addr).Logger()

	triggerReq, err := types.NewRequest(types.MethodGetBlockFromPeer, origParams[0], p.ID)
	if err != nil {
		return nil, err
	}
	triggerResp, err := r.caller.Call(ctx, triggerReq)
	switch {
	case err != nil:
		l.Error().Err(err).Msg("Error calling getblockfrompeer.")
		if !r.policy.RetryOnTriggerFailure {
			return nil, err
		}
	case triggerResp.Failed():
		msg := string(triggerResp.Error)
		if rpcErr := triggerResp.RPCError(); rpcErr != nil {
			msg = rpcErr.Message
		}
		l.Info().Msgf("%sBlock %s: could not initiate download via peer %s: %s.", r.emoji(), shortHash(hash), p.ID, msg)
		if !r.policy.RetryOnTriggerFailure {
			return triggerResp, nil
		}
	default:
		l.Info().Msgf("%sBlock %s: download initiated via peer id %s / %s", r.emoji(), shortHash(hash), p.ID, p.Addr)
		r.counters.AddDownload(hash)

		if r.policy.WaitForDownload > 0 {
			l.Debug().Dur("wait", r.policy.WaitForDownload).Msg("Waiting for download...")
			if err := r.wait(ctx, r.policy.WaitForDownload); err != nil {
				return nil, err
			}
		}
	}

	retryReq, err := types.WithParams(&types.Request{
		JSONRPC: origReq.JSONRPC,
		ID:      origReq.ID,
		Method:  types.MethodGetBlock,
	}, []json.RawMessage{origParams[0], r.retryVerbosity(origParams)})
	if err != nil {
		return nil, err
	}
	return r.caller.Call(ctx, retryReq)
}

func (r *Recovery) fetchPeers(ctx context.Context) ([]peer, error) {
	req, err := types.NewRequest(types.MethodGetPeerInfo)
	if err != nil {
		return nil, err
	}
	resp, err := r.caller.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, fmt.Errorf("getpeerinfo failed: %s", resp.Error)
	}
	var peers []peer
	if err := json.Unmarshal(resp.Result, &peers); err != nil {
		return nil, fmt.Errorf("getpeerinfo result is not a peer list: %w", err)
	}
	for i := range peers {
		if len(peers[i].ID) == 0 {
			peers[i].ID = json.RawMessage(`""`)
		}
	}
	return peers, nil
}

func (r *Recovery) retryVerbosity(origParams []json.RawMessage) json.RawMessage {
	if r.policy.PreserveVerbosity && len(origParams) > 1 {
		return origParams[1]
	}
	return json.RawMessage("0")
}

func (r *Recovery) emoji() string {
	if r.policy.Emojis {
		return "🧈 "
	}
	return ""
}

// shortHash keeps the distinctive tail of a block hash; mainnet hashes
// start with a long run of zeros.
func shortHash(hash string) string {
	if len(hash) > 30 {
		return "..." + hash[30:]
	}
	return hash
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
