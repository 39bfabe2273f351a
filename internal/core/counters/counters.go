// Package counters holds the process-wide proxy statistics. A single
// Counters value is created at startup and injected into every component
// that updates or reads it.
package counters

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Counters tracks handled requests and the blocks a peer download was
// initiated for. All methods are safe for concurrent use.
type Counters struct {
	startTime time.Time
	requests  atomic.Uint64
	downloads *xsync.Map[string, time.Time]
	now       func() time.Time
}

// New creates a Counters value whose uptime starts now.
func New() *Counters {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Counters {
	return &Counters{
		startTime: now(),
		downloads: xsync.NewMap[string, time.Time](),
		now:       now,
	}
}

// IncRequests counts one inbound request and returns the new total.
func (c *Counters) IncRequests() uint64 {
	return c.requests.Add(1)
}

// Requests returns the number of requests handled so far.
func (c *Counters) Requests() uint64 {
	return c.requests.Load()
}

// AddDownload records that a peer download was initiated for hash.
// It returns false if the hash was already recorded.
func (c *Counters) AddDownload(hash string) bool {
	_, loaded := c.downloads.LoadOrStore(hash, c.now())
	return !loaded
}

// HasDownload reports whether a download was ever initiated for hash.
func (c *Counters) HasDownload(hash string) bool {
	_, ok := c.downloads.Load(hash)
	return ok
}

// Downloads returns the number of distinct blocks a download was initiated for.
func (c *Counters) Downloads() int {
	return c.downloads.Size()
}

// DownloadedHashes returns the recorded hashes in lexical order.
func (c *Counters) DownloadedHashes() []string {
	hashes := make([]string, 0, c.downloads.Size())
	c.downloads.Range(func(hash string, _ time.Time) bool {
		hashes = append(hashes, hash)
		return true
	})
	sort.Strings(hashes)
	return hashes
}

// Uptime returns how long the counters have existed.
func (c *Counters) Uptime() time.Duration {
	return c.now().Sub(c.startTime)
}
