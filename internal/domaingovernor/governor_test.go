package domaingovernor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_BoundsConcurrencyPerHost(t *testing.T) {
	g := New(2)
	ctx := context.Background()

	rel1, err := g.Acquire(ctx, "example.com", 2)
	require.NoError(t, err)
	rel2, err := g.Acquire(ctx, "example.com", 2)
	require.NoError(t, err)

	acquired := make(chan struct{}, 1)
	go func() {
		rel3, err := g.Acquire(ctx, "example.com", 2)
		if err == nil {
			acquired <- struct{}{}
			rel3()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should not have succeeded while two slots are held")
	case <-time.After(50 * time.Millisecond):
	}

	rel1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should have succeeded after a release")
	}
	rel2()
}

func TestAcquire_TimesOutOnContextDeadline(t *testing.T) {
	g := New(1)
	ctx := context.Background()
	rel, err := g.Acquire(ctx, "example.com", 1)
	require.NoError(t, err)
	defer rel()

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(timeoutCtx, "example.com", 1)
	require.Error(t, err)
}

func TestAcquire_IsolatesHosts(t *testing.T) {
	g := New(1)
	ctx := context.Background()

	rel, err := g.Acquire(ctx, "a.com", 1)
	require.NoError(t, err)
	defer rel()

	_, err = g.Acquire(ctx, "b.com", 1)
	require.NoError(t, err)
}

func TestReportResult_OpensBreakerAfterRepeatedFailures(t *testing.T) {
	g := New(5)
	for i := 0; i < 10; i++ {
		g.ReportResult("flaky.example.com", false)
	}
	_, err := g.Acquire(context.Background(), "flaky.example.com", 5)
	require.Error(t, err)
}

func TestAcquire_ConcurrentAcquireReleaseNeverExceedsCapacity(t *testing.T) {
	g := New(3)
	var inFlight int32
	var maxSeen int32
	done := make(chan struct{})

	for i := 0; i < 30; i++ {
		go func() {
			rel, err := g.Acquire(context.Background(), "busy.example.com", 3)
			if err != nil {
				done <- struct{}{}
				return
			}
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if cur <= old || atomic.CompareAndSwapInt32(&maxSeen, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			rel()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 30; i++ {
		<-done
	}
	assert.LessOrEqual(t, maxSeen, int32(3))
}
