package oneshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDone = errors.New("done")

func TestCompleteThenWait(t *testing.T) {
	w := New[int]()
	require.True(t, w.Complete(7, nil))
	assert.False(t, w.Complete(8, nil), "second completion must be refused")

	v, err := w.Wait(context.Background(), nil, errDone)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestWaitContextCancelled(t *testing.T) {
	w := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := w.Wait(ctx, nil, errDone)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, w.Abandoned())
	assert.False(t, w.Complete(1, nil))
}

func TestWaitDone(t *testing.T) {
	w := New[string]()
	done := make(chan struct{})
	close(done)

	_, err := w.Wait(context.Background(), done, errDone)
	assert.ErrorIs(t, err, errDone)
}

func TestCompleteFromAnotherGoroutine(t *testing.T) {
	w := New[string]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		w.Complete("ok", nil)
	}()

	v, err := w.Wait(context.Background(), make(chan struct{}), errDone)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.False(t, w.Abandoned())
}
