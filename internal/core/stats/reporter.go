// Package stats periodically logs a summary of the proxy counters.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"btcproxy/internal/core/counters"
	"btcproxy/internal/shared/logger"
	"btcproxy/internal/shared/types"
)

// Reporter logs counter summaries. It only reads the counters.
type Reporter struct {
	counters     *counters.Counters
	inFlight     func() int
	interval     time.Duration
	idleInterval time.Duration
	emojis       bool
	log          zerolog.Logger
}

// NewReporter creates a Reporter. inFlight may be nil.
func NewReporter(c *counters.Counters, inFlight func() int, interval, idleInterval time.Duration, emojis bool) *Reporter {
	if inFlight == nil {
		inFlight = func() int { return 0 }
	}
	return &Reporter{
		counters:     c,
		inFlight:     inFlight,
		interval:     interval,
		idleInterval: idleInterval,
		emojis:       emojis,
		log:          logger.WithComponent("Stats"),
	}
}

// Run reports until ctx is cancelled. While no request has been handled it
// reports on the idle interval, afterwards on the regular one.
func (r *Reporter) Run(ctx context.Context) error {
	wait := r.idleInterval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		wait = r.Report()
	}
}

// Report logs one summary and returns how long to wait before the next one.
func (r *Reporter) Report() time.Duration {
	snap := r.Snapshot()
	if snap.Requests == 0 {
		r.log.Info().Dur("uptime", snap.Uptime).Msg("No activity yet.")
		return r.idleInterval
	}
	r.log.Info().
		Uint64("requests", snap.Requests).
		Int("downloads", snap.Downloads).
		Int("in_flight", snap.InFlight).
		Msg(Line(snap, r.emojis))
	return r.interval
}

// Snapshot copies the current counter values.
func (r *Reporter) Snapshot() types.StatsSnapshot {
	return types.StatsSnapshot{
		Uptime:     r.counters.Uptime(),
		Requests:   r.counters.Requests(),
		Downloads:  r.counters.Downloads(),
		InFlight:   r.inFlight(),
		SnapshotAt: time.Now(),
	}
}

// Line renders the human-readable summary of snap.
func Line(snap types.StatsSnapshot, emojis bool) string {
	prefix := ""
	if emojis {
		prefix = "📊 "
	}
	return fmt.Sprintf("%sHandled %d requests in %s. %d blocks were downloaded.",
		prefix, snap.Requests, FormatUptime(snap.Uptime), snap.Downloads)
}

// FormatUptime renders d as "D days, H hours, M minutes, S seconds".
func FormatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60
	return fmt.Sprintf("%d days, %d hours, %d minutes, %d seconds", days, hours, minutes, seconds)
}
