package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmit_ReturnsUnitResult(t *testing.T) {
	s := New()

	resp, err := s.Submit(context.Background(), "req", func(context.Context) []byte {
		return []byte(`{"result":1}`)
	})

	require.NoError(t, err)
	assert.Equal(t, `{"result":1}`, string(resp))
	assert.Equal(t, 0, s.InFlight())
}

func TestSubmit_RegistryDrainsUnderConcurrency(t *testing.T) {
	s := New()
	const n = 250

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(n)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.Submit(context.Background(), "req", func(context.Context) []byte {
				started.Done()
				<-release
				return []byte(fmt.Sprintf(`{"result":%d}`, i))
			})
			if err != nil {
				errs <- err
				return
			}
			if string(resp) != fmt.Sprintf(`{"result":%d}`, i) {
				errs <- fmt.Errorf("unit %d got %s", i, resp)
			}
		}(i)
	}

	started.Wait()
	assert.Equal(t, n, s.InFlight(), "every unit is registered while running")
	assert.Len(t, s.Units(), n)

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Equal(t, 0, s.InFlight())
	require.NoError(t, s.Wait(context.Background()))
}

func TestSubmit_SequenceNumbersAreUnique(t *testing.T) {
	s := New()
	seen := make(map[uint64]bool)
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Submit(context.Background(), "req", func(context.Context) []byte {
				for _, u := range s.Units() {
					mu.Lock()
					seen[u.Seq] = true
					mu.Unlock()
				}
				return []byte(`{}`)
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(100), s.seq.Load())
	for seq := range seen {
		assert.Less(t, seq, uint64(100))
	}
}

func TestSubmit_PanicIsContained(t *testing.T) {
	s := New()

	resp, err := s.Submit(context.Background(), "req", func(context.Context) []byte {
		panic("boom")
	})

	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, ErrUnitAborted))
	assert.Equal(t, 0, s.InFlight())
}

func TestSubmit_NilResponseIsInvalidState(t *testing.T) {
	s := New()

	_, err := s.Submit(context.Background(), "req", func(context.Context) []byte { return nil })

	assert.ErrorIs(t, err, ErrUnitAborted)
	assert.Equal(t, 0, s.InFlight())
}

func TestSubmit_CancelledCallerStillDeregisters(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		<-entered
		cancel()
	}()
	_, err := s.Submit(ctx, "req", func(context.Context) []byte {
		close(entered)
		<-release
		return []byte(`{}`)
	})
	assert.ErrorIs(t, err, ErrUnitCancelled)
	assert.Equal(t, 1, s.InFlight(), "unit is still registered until it finishes")

	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, s.Wait(waitCtx))
	assert.Equal(t, 0, s.InFlight())
}
