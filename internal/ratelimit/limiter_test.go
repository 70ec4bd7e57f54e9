package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcess_AdmitsUpToLimitThenRejects(t *testing.T) {
	l := NewInProcess(Config{WindowSeconds: 60})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "key-1", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, "key-1", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestInProcess_AdmitsAgainAfterWindowElapses(t *testing.T) {
	base := time.Now()
	l := NewInProcess(Config{WindowSeconds: 60})
	l.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		d, err := l.Allow(context.Background(), "key-1", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(context.Background(), "key-1", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	d, err = l.Allow(context.Background(), "key-1", 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestInProcess_ConcurrentBurstNeverAdmitsAboveLimit(t *testing.T) {
	l := NewInProcess(Config{WindowSeconds: 60})
	const limit = 5
	const attempts = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(context.Background(), "burst-key", limit)
			require.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)
}

func TestInProcess_IsolatesKeys(t *testing.T) {
	l := NewInProcess(Config{WindowSeconds: 60})
	d1, err := l.Allow(context.Background(), "a", 1)
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := l.Allow(context.Background(), "b", 1)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
}
