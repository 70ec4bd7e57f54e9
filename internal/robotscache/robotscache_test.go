package robotscache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowed_DeniesDisallowedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer srv.Close()

	c := New()
	u := mustParse(t, srv.URL)
	allowed, err := c.Allowed(context.Background(), u.scheme, u.host, "/private/page", "test-bot")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowed_AllowsWhenNotDisallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer srv.Close()

	c := New()
	u := mustParse(t, srv.URL)
	allowed, err := c.Allowed(context.Background(), u.scheme, u.host, "/public/page", "test-bot")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowed_FailsOpenOnFetchError(t *testing.T) {
	c := New()
	allowed, err := c.Allowed(context.Background(), "http", "127.0.0.1:1", "/x", "test-bot")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowed_FailsOpenOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New()
	u := mustParse(t, srv.URL)
	allowed, err := c.Allowed(context.Background(), u.scheme, u.host, "/x", "test-bot")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowed_CoalescesConcurrentLookups(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte("User-agent: *\nAllow: /\n"))
	}))
	defer srv.Close()

	c := New()
	u := mustParse(t, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Allowed(context.Background(), u.scheme, u.host, "/a", "test-bot")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

type parsed struct{ scheme, host string }

func mustParse(t *testing.T, raw string) parsed {
	scheme, host, err := HostOf(raw)
	require.NoError(t, err)
	return parsed{scheme: scheme, host: host}
}
