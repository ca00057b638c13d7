package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

// countingServer answers with statuses in order, repeating the last one.
func countingServer(t *testing.T, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTP_OK(t *testing.T) {
	t.Parallel()

	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("payload"))
	}))
	t.Cleanup(srv.Close)

	h := NewHTTP(WithHeader("User-Agent", "tiercache-test"))
	body, err := h.Fetch(context.Background(), srv.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "tiercache-test", gotHeader.Load())
}

// Permanent statuses fail on the first attempt with a matching code.
func TestHTTP_PermanentStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]errors.ErrorCode{
		http.StatusNotFound:     errors.CodeNotFound,
		http.StatusGone:         errors.CodeNotFound,
		http.StatusUnauthorized: errors.CodeUnauthorized,
		http.StatusForbidden:    errors.CodeForbidden,
		http.StatusNoContent:    errors.CodeInvalidInput,
		http.StatusBadRequest:   errors.CodeInvalidInput,
	}
	for status, code := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			srv, calls := countingServer(t, "", status)
			h := NewHTTP(WithRetries(3), WithBackOff(zeroBackOff))

			_, err := h.Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Equal(t, code, errors.GetCode(err))
			assert.False(t, errors.IsRetryable(err))
			assert.Equal(t, int32(1), calls.Load(), "permanent failures are not retried")
		})
	}
}

// Retryable statuses are retried until success.
func TestHTTP_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, "ok",
		http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)
	h := NewHTTP(WithRetries(2), WithBackOff(zeroBackOff))

	body, err := h.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

// Retries are bounded; the last error is returned.
func TestHTTP_RetriesExhausted(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, "", http.StatusInternalServerError)
	h := NewHTTP(WithRetries(1), WithBackOff(zeroBackOff))

	_, err := h.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnavailable, errors.GetCode(err))
	assert.Equal(t, int32(2), calls.Load())

	var pe errors.PlatformError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusInternalServerError, pe.Context()["status"])
}

// A slow server trips the read timeout.
func TestHTTP_ReadTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	h := NewHTTP(WithTimeouts(time.Second, 50*time.Millisecond), WithRetries(0))
	start := time.Now()
	_, err := h.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

// A body that keeps arriving outlives connect+read; only a stall times out.
func TestHTTP_SlowBodyWithProgress(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			_, _ = w.Write([]byte("chunk"))
			fl.Flush()
			select {
			case <-time.After(30 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	h := NewHTTP(WithTimeouts(50*time.Millisecond, 150*time.Millisecond), WithRetries(0))
	body, err := h.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("chunk", 10), string(body))
}

func TestHTTP_StalledBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	h := NewHTTP(WithTimeouts(time.Second, 50*time.Millisecond), WithRetries(0))
	start := time.Now()
	_, err := h.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

// A caller-supplied client carries every request.
func TestHTTP_WithClient(t *testing.T) {
	t.Parallel()

	srv, _ := countingServer(t, "ok", http.StatusOK)
	var used atomic.Int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		used.Add(1)
		return http.DefaultTransport.RoundTrip(r)
	})}

	body, err := NewHTTP(WithClient(client)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(1), used.Load())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHTTP_BodyLimit(t *testing.T) {
	t.Parallel()

	srv, _ := countingServer(t, strings.Repeat("x", 100), http.StatusOK)

	_, err := NewHTTP(WithMaxBytes(10)).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	body, err := NewHTTP(WithMaxBytes(100)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, body, 100)
}

// Connection failures are network errors.
func TestHTTP_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(WithRetries(1), WithBackOff(zeroBackOff)).Fetch(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNetwork, errors.GetCode(err))
}

func TestHTTP_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewHTTP().Fetch(context.Background(), "://bad")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

// A canceled context stops the fetch without retries.
func TestHTTP_Canceled(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, "", http.StatusServiceUnavailable)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTP(WithRetries(5)).Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.LessOrEqual(t, calls.Load(), int32(1))
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var src Source = Func(func(_ context.Context, key string) ([]byte, error) {
		return []byte("v:" + key), nil
	})
	b, err := src.Fetch(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v:k", string(b))
}
