// Package supervisor runs every inbound request as its own unit of work and
// keeps a registry of the units still in flight.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"btcproxy/internal/shared/logger"
)

var (
	// ErrUnitAborted means the unit ended without producing a response (it panicked).
	ErrUnitAborted = errors.New("request unit aborted")

	// ErrUnitCancelled means the submitter stopped waiting before the unit finished.
	ErrUnitCancelled = errors.New("request unit cancelled")
)

// Unit describes one scheduled request.
type Unit struct {
	Seq     uint64
	TraceID string
	Name    string
	Started time.Time
}

type unit struct {
	Unit
	done chan struct{}
	resp []byte
	err  error
}

// Supervisor schedules units without any concurrency cap.
type Supervisor struct {
	seq      atomic.Uint64
	inFlight *xsync.Map[uint64, *unit]
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// New creates an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{
		inFlight: xsync.NewMap[uint64, *unit](),
		log:      logger.WithComponent("Supervisor"),
	}
}

// Submit runs fn as a new unit and waits for its result. The unit is
// removed from the registry before Submit observes its completion, on
// every path including panics. If ctx ends first Submit returns
// ErrUnitCancelled; the unit keeps running with the same ctx and still
// deregisters itself.
func (s *Supervisor) Submit(ctx context.Context, name string, fn func(ctx context.Context) []byte) ([]byte, error) {
	u := &unit{
		Unit: Unit{
			Seq:     s.seq.Add(1) - 1,
			TraceID: uuid.NewString(),
			Name:    name,
			Started: time.Now(),
		},
		done: make(chan struct{}),
	}
	l := s.log.With().Uint64("task", u.Seq).Str("trace_id", u.TraceID).Logger()

	s.register(u)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(u.done)
		defer s.deregister(u.Seq)
		defer func() {
			if r := recover(); r != nil {
				u.resp = nil
				u.err = fmt.Errorf("%w: %v", ErrUnitAborted, r)
				l.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Request task aborted.")
			}
		}()
		u.resp = fn(ctx)
	}()

	select {
	case <-u.done:
	default:
		l.Debug().Str("name", name).Msg("Task is not done yet...awaiting...")
		select {
		case <-u.done:
		case <-ctx.Done():
			l.Warn().Err(ctx.Err()).Msg("Stopped waiting for request task.")
			return nil, fmt.Errorf("%w: %v", ErrUnitCancelled, ctx.Err())
		}
	}

	if u.err != nil {
		return nil, u.err
	}
	if u.resp == nil {
		l.Error().Msg("Request task finished in an invalid state: no response.")
		return nil, ErrUnitAborted
	}
	l.Debug().Dur("elapsed", time.Since(u.Started)).Msg("Task is done.")
	return u.resp, nil
}

func (s *Supervisor) register(u *unit) {
	if _, loaded := s.inFlight.LoadOrStore(u.Seq, u); loaded {
		s.log.Error().Uint64("task", u.Seq).Msg("Invalid state: task sequence registered twice.")
	}
}

func (s *Supervisor) deregister(seq uint64) {
	if _, ok := s.inFlight.LoadAndDelete(seq); !ok {
		s.log.Error().Uint64("task", seq).Msg("Invalid state: task finished but was not registered.")
	}
}

// InFlight returns the number of units still running.
func (s *Supervisor) InFlight() int {
	return s.inFlight.Size()
}

// Units returns a snapshot of the units still running.
func (s *Supervisor) Units() []Unit {
	units := make([]Unit, 0, s.inFlight.Size())
	s.inFlight.Range(func(_ uint64, u *unit) bool {
		units = append(units, u.Unit)
		return true
	})
	return units
}

// Wait blocks until every submitted unit has finished or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d request tasks still running: %w", s.InFlight(), ctx.Err())
	}
}
