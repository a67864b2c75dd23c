package interrupt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(calls *int) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*calls++
		return nil
	}
}

func TestTokenErr(t *testing.T) {
	t.Run("nil predicate keeps running", func(t *testing.T) {
		tok := New(context.Background(), nil)
		assert.NoError(t, tok.Err())
	})

	t.Run("predicate false stops", func(t *testing.T) {
		tok := New(context.Background(), func() bool { return false })
		assert.ErrorIs(t, tok.Err(), ErrInterrupted)
	})

	t.Run("cancelled context stops", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tok := New(ctx, func() bool { return true })
		assert.True(t, Is(tok.Err()))
	})
}

func TestTokenWait(t *testing.T) {
	calls := 0
	tok := New(context.Background(), nil, WithSleep(noSleep(&calls)))
	require.NoError(t, tok.Wait(5, time.Second))
	assert.Equal(t, 5, calls)
}

func TestTokenWaitStopsMidway(t *testing.T) {
	calls := 0
	keep := func() bool { return calls < 2 }
	tok := New(context.Background(), keep, WithSleep(noSleep(&calls)))

	err := tok.Wait(10, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))
	assert.Equal(t, 2, calls)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tok := New(ctx, nil)
	go cancel()
	err := tok.Sleep(time.Minute)
	assert.ErrorIs(t, err, ErrInterrupted)
}
