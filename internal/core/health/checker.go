// Package health probes the upstream bitcoind and logs what it reports.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"btcproxy/internal/shared/logger"
	"btcproxy/internal/shared/types"
)

// Status is the outcome of one upstream probe.
type Status struct {
	Up      bool
	Latency time.Duration
	Chain   string
	Blocks  int64
	Pruned  bool

	// PruneHeight is the lowest block still stored; zero when not pruned.
	PruneHeight int64
	Err         error
}

type blockchainInfo struct {
	Chain       string `json:"chain"`
	Blocks      int64  `json:"blocks"`
	Pruned      bool   `json:"pruned"`
	PruneHeight int64  `json:"pruneheight"`
}

// Checker probes bitcoind with getblockchaininfo. The result is only logged;
// requests are forwarded whatever it says.
type Checker struct {
	caller types.Caller
	log    zerolog.Logger
}

// New creates a Checker that probes through caller.
func New(caller types.Caller) *Checker {
	return &Checker{
		caller: caller,
		log:    logger.WithComponent("HealthCheck"),
	}
}

// Check runs one probe and logs the result.
func (c *Checker) Check(ctx context.Context) Status {
	st := c.probe(ctx)
	if !st.Up {
		c.log.Warn().Err(st.Err).Dur("latency", st.Latency).Msg("Upstream bitcoind is not answering; requests will fail until it does.")
		return st
	}

	ev := c.log.Info().
		Dur("latency", st.Latency).
		Str("chain", st.Chain).
		Int64("blocks", st.Blocks).
		Bool("pruned", st.Pruned)
	if st.Pruned {
		ev = ev.Int64("prune_height", st.PruneHeight)
	}
	ev.Msg("Upstream bitcoind is reachable.")
	if !st.Pruned {
		c.log.Info().Msg("Upstream node is not pruned; block recovery should never be needed.")
	}
	return st
}

func (c *Checker) probe(ctx context.Context) Status {
	req, err := types.NewRequest(types.MethodGetBlockchainInfo)
	if err != nil {
		return Status{Err: err}
	}

	start := time.Now()
	resp, err := c.caller.Call(ctx, req)
	st := Status{Latency: time.Since(start)}
	if err != nil {
		st.Err = err
		return st
	}
	if resp.Failed() {
		st.Err = fmt.Errorf("getblockchaininfo failed: %s", resp.Error)
		return st
	}

	var info blockchainInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		st.Err = fmt.Errorf("getblockchaininfo result: %w", err)
		return st
	}
	st.Up = true
	st.Chain = info.Chain
	st.Blocks = info.Blocks
	st.Pruned = info.Pruned
	st.PruneHeight = info.PruneHeight
	return st
}
