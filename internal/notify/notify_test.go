package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyCoalesces(t *testing.T) {
	s := NewSet("consumer", nil)

	// k notifies of the same bit before any wait collapse to one pending bit.
	for i := 0; i < 5; i++ {
		s.Notify(3)
	}
	assert.Equal(t, 1, s.Pending())

	mask, err := s.Wait(context.Background(), TakeOne, 0)
	require.NoError(t, err)
	assert.Equal(t, Mask(3), mask)

	// Nothing left pending.
	_, err = s.Wait(context.Background(), TakeOne, 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTakeOneClearsExactlyOneBit(t *testing.T) {
	s := NewSet("consumer", nil)
	s.Notify(1)
	s.Notify(4)
	s.Notify(9)

	mask, err := s.Wait(context.Background(), TakeOne, 0)
	require.NoError(t, err)
	assert.Equal(t, Mask(1), mask, "lowest pending bit is taken")
	assert.Equal(t, 2, s.Pending())
}

func TestTakeAllClearsEverything(t *testing.T) {
	s := NewSet("consumer", nil)
	s.Notify(1)
	s.Notify(4)
	s.Notify(9)

	mask, err := s.Wait(context.Background(), TakeAll, 0)
	require.NoError(t, err)
	assert.Equal(t, Mask(1, 4, 9), mask)
	assert.Equal(t, 0, s.Pending())
}

func TestNotifyWhileNotWaitingStaysPending(t *testing.T) {
	s := NewSet("consumer", nil)

	s.Notify(7)
	time.Sleep(10 * time.Millisecond)

	// The notify arrived before the wait; it must not be lost.
	mask, err := s.Wait(context.Background(), TakeOne, 0)
	require.NoError(t, err)
	assert.Equal(t, Mask(7), mask)
}

func TestWaitWakesOnNotify(t *testing.T) {
	s := NewSet("consumer", nil)

	got := make(chan uint64, 1)
	go func() {
		mask, err := s.Wait(context.Background(), TakeOne, time.Second)
		if err == nil {
			got <- mask
		}
	}()

	time.Sleep(10 * time.Millisecond)
	s.Notify(2)

	select {
	case mask := <-got:
		assert.Equal(t, Mask(2), mask)
	case <-time.After(time.Second):
		t.Fatal("blocked wait did not wake on notify")
	}
}

func TestWaitTimeout(t *testing.T) {
	s := NewSet("consumer", nil)

	start := time.Now()
	_, err := s.Wait(context.Background(), TakeAll, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitContextCancel(t *testing.T) {
	s := NewSet("consumer", nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Wait(ctx, TakeOne, time.Minute)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("blocked wait did not observe cancellation")
	}
}

func TestConsume(t *testing.T) {
	s := NewSet("driver", nil)

	assert.False(t, s.Consume(BitShutdown))

	s.Notify(BitShutdown)
	assert.True(t, s.Consume(BitShutdown))
	assert.False(t, s.Consume(BitShutdown), "consume clears the bit")
}

func TestOutOfRangeBitIgnored(t *testing.T) {
	s := NewSet("consumer", nil)

	s.Notify(Bit(64))
	assert.Equal(t, 0, s.Pending())
	assert.False(t, s.Consume(Bit(200)))
}
