package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmgilman/go/errors"
)

const (
	// DefaultConnectTimeout bounds dialing and the TLS handshake.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultReadTimeout bounds the wait for response headers and every
	// stretch of the body without progress. A body that keeps arriving is
	// never cut off.
	DefaultReadTimeout = 5 * time.Second
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 2
	// DefaultMaxBytes caps the accepted body size.
	DefaultMaxBytes = 32 << 20
)

// HTTP fetches keys that are URLs with GET. Only a 200 response is a
// success. Retryable failures (timeouts, network errors, 429, 5xx) are
// retried with exponential backoff.
type HTTP struct {
	client         *http.Client
	header         http.Header
	connectTimeout time.Duration
	readTimeout    time.Duration
	retries        uint64
	maxBytes       int64
	newBackOff     func() backoff.BackOff
	log            *slog.Logger
}

// HTTPOption configures an HTTP source.
type HTTPOption func(*HTTP)

// WithClient uses c as is. Its transport timeouts replace the connect
// timeout; the read timeout still applies to headers and body progress.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHeader adds a request header sent on every fetch.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) { h.header.Add(key, value) }
}

// WithTimeouts sets the connect and read timeouts. Non-positive values
// keep the defaults.
func WithTimeouts(connect, read time.Duration) HTTPOption {
	return func(h *HTTP) {
		if connect > 0 {
			h.connectTimeout = connect
		}
		if read > 0 {
			h.readTimeout = read
		}
	}
}

// WithRetries sets how many times a retryable failure is retried.
func WithRetries(n uint64) HTTPOption {
	return func(h *HTTP) { h.retries = n }
}

// WithMaxBytes caps the response body. Use 0 for no limit.
func WithMaxBytes(n int64) HTTPOption {
	return func(h *HTTP) {
		if n >= 0 {
			h.maxBytes = n
		}
	}
}

// WithBackOff sets the policy between retries. fn is called once per Fetch.
func WithBackOff(fn func() backoff.BackOff) HTTPOption {
	return func(h *HTTP) {
		if fn != nil {
			h.newBackOff = fn
		}
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHTTP builds an HTTP source.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		header:         make(http.Header),
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		retries:        DefaultRetries,
		maxBytes:       DefaultMaxBytes,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(100*time.Millisecond),
				backoff.WithMaxInterval(2*time.Second),
			)
		},
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = &http.Client{Transport: newTransport(h.connectTimeout, h.readTimeout)}
	}
	return h
}

func newTransport(connect, read time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = connect
	t.ResponseHeaderTimeout = read
	return t
}

// Fetch GETs url and returns the body of a 200 response.
func (h *HTTP) Fetch(ctx context.Context, url string) ([]byte, error) {
	op := func() ([]byte, error) {
		body, err := h.once(ctx, url)
		if err != nil && !errors.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return body, err
	}
	notify := func(err error, wait time.Duration) {
		h.log.Debug("fetch failed, retrying", "url", url, "wait", wait, "err", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(h.newBackOff(), h.retries), ctx)
	body, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		var pe errors.PlatformError
		if !errors.As(err, &pe) {
			// The context ended between attempts.
			err = transportError(url, err)
		}
		return nil, err
	}
	return body, nil
}

// errStalled cancels an attempt that made no progress within the read timeout.
var errStalled = fmt.Errorf("no progress within read timeout: %w", context.DeadlineExceeded)

// progressReader re-arms the stall timer on every read that returns data.
type progressReader struct {
	r     io.Reader
	stall *time.Timer
	idle  time.Duration
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.stall.Reset(p.idle)
	}
	return n, err
}

// once performs a single attempt. Until headers arrive it is bounded by
// connect+read; afterwards by read per stretch without body progress.
func (h *HTTP) once(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stall := time.AfterFunc(h.connectTimeout+h.readTimeout, func() { cancel(errStalled) })
	defer stall.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "fetch: invalid url")
	}
	req.Header = h.header.Clone()

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, transportError(url, stallCause(ctx, err))
	}
	defer resp.Body.Close()
	stall.Reset(h.readTimeout)

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, statusError(url, resp.StatusCode)
	}

	var r io.Reader = &progressReader{r: resp.Body, stall: stall, idle: h.readTimeout}
	if h.maxBytes > 0 {
		r = io.LimitReader(r, h.maxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, transportError(url, stallCause(ctx, err))
	}
	if h.maxBytes > 0 && int64(len(body)) > h.maxBytes {
		return nil, errors.Newf(errors.CodeInvalidInput, "fetch %s: body exceeds %d bytes", url, h.maxBytes)
	}
	return body, nil
}

// stallCause substitutes errStalled when the stall timer ended the attempt,
// so it is classified as a timeout rather than a cancellation.
func stallCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, errStalled) {
		return cause
	}
	return err
}

var _ Source = (*HTTP)(nil)
