package idempotency_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tourbase/tourbase/internal/domain"
	"github.com/tourbase/tourbase/internal/idempotency"
)

func newCoordinator(wait time.Duration) *idempotency.Coordinator {
	return idempotency.NewCoordinator(idempotency.NewMemoryStore(), wait, zap.NewNop())
}

func TestExecute_NoKeyRunsEveryTime(t *testing.T) {
	t.Parallel()
	c := newCoordinator(time.Second)

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		return []byte(fmt.Sprintf(`{"n":%d}`, atomic.AddInt32(&calls, 1))), nil
	}

	for i := 0; i < 3; i++ {
		_, cached, err := c.Execute(context.Background(), "agent-1", "", domain.ActionBookingsCreate, fn)
		require.NoError(t, err)
		assert.False(t, cached)
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestExecute_ReplayReturnsStoredResultVerbatim(t *testing.T) {
	t.Parallel()
	c := newCoordinator(time.Second)

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{"booking_id":"b-1"}`), nil
	}

	first, cached, err := c.Execute(context.Background(), "agent-1", "abc", domain.ActionBookingsCreate, fn)
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := c.Execute(context.Background(), "agent-1", "abc", domain.ActionBookingsCreate, fn)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "fn must not re-execute on replay")
}

func TestExecute_KeysAreScopedPerAgent(t *testing.T) {
	t.Parallel()
	c := newCoordinator(time.Second)

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{}`), nil
	}

	_, _, err := c.Execute(context.Background(), "agent-1", "abc", domain.ActionBookingsCreate, fn)
	require.NoError(t, err)
	_, cached, err := c.Execute(context.Background(), "agent-2", "abc", domain.ActionBookingsCreate, fn)
	require.NoError(t, err)

	assert.False(t, cached, "same key for another agent is a different scope")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExecute_ConcurrentSameKeyExecutesOnce(t *testing.T) {
	t.Parallel()
	c := newCoordinator(3 * time.Second)

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond) // медленный downstream
		return []byte(`{"booking_id":"b-42"}`), nil
	}

	const workers = 8
	results := make([][]byte, workers)
	cachedFlags := make([]bool, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], cachedFlags[n], errs[n] = c.Execute(
				context.Background(), "agent-1", "race-key", domain.ActionBookingsCreate, fn)
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "exactly one underlying mutation")

	fresh := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte(`{"booking_id":"b-42"}`), results[i])
		if !cachedFlags[i] {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "only the race winner observes a fresh execution")
}

func TestExecute_FailureLeavesNoRecord(t *testing.T) {
	t.Parallel()
	c := newCoordinator(time.Second)

	boom := errors.New("storage down")
	_, _, err := c.Execute(context.Background(), "agent-1", "retry-key", domain.ActionRefundsCreate,
		func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	// Честный ретрай с тем же ключом исполняется заново и может преуспеть
	res, cached, err := c.Execute(context.Background(), "agent-1", "retry-key", domain.ActionRefundsCreate,
		func(context.Context) ([]byte, error) { return []byte(`{"ok":true}`), nil })
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte(`{"ok":true}`), res)
}

func TestExecute_WaitBudgetExhaustedReturnsInFlight(t *testing.T) {
	t.Parallel()
	c := newCoordinator(150 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _, _ = c.Execute(context.Background(), "agent-1", "slow-key", domain.ActionBookingsCreate,
			func(context.Context) ([]byte, error) {
				close(started)
				<-release
				return []byte(`{}`), nil
			})
	}()

	<-started
	_, _, err := c.Execute(context.Background(), "agent-1", "slow-key", domain.ActionBookingsCreate,
		func(context.Context) ([]byte, error) { return []byte(`{}`), nil })
	close(release)

	assert.ErrorIs(t, err, idempotency.ErrInFlight)
}

func TestExecute_LoserReclaimsAfterWinnerFailure(t *testing.T) {
	t.Parallel()
	c := newCoordinator(2 * time.Second)

	started := make(chan struct{})
	fail := make(chan struct{})

	var winnerErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, winnerErr = c.Execute(context.Background(), "agent-1", "flaky-key", domain.ActionBookingsCreate,
			func(context.Context) ([]byte, error) {
				close(started)
				<-fail
				return nil, errors.New("transient failure")
			})
	}()

	<-started
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(fail)
	}()

	// Проигравший дожидается освобождения ключа и исполняет мутацию сам
	res, cached, err := c.Execute(context.Background(), "agent-1", "flaky-key", domain.ActionBookingsCreate,
		func(context.Context) ([]byte, error) { return []byte(`{"recovered":true}`), nil })
	<-done

	require.Error(t, winnerErr)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte(`{"recovered":true}`), res)
}

func TestMemoryStore_SweepEvictsOnlyCompleted(t *testing.T) {
	t.Parallel()
	s := idempotency.NewMemoryStore()
	ctx := context.Background()

	_, err := s.Claim(ctx, "a", "done", domain.ActionBookingsCreate)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "a", "done", []byte(`{}`)))

	_, err = s.Claim(ctx, "a", "pending", domain.ActionBookingsCreate)
	require.NoError(t, err)

	removed := s.Sweep(ctx, 0) // нулевой TTL: все завершенное — устаревшее
	assert.Equal(t, 1, removed)

	cl, err := s.Claim(ctx, "a", "pending", domain.ActionBookingsCreate)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatePending, cl.State, "pending claims survive sweep")
}
