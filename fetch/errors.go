package fetch

import (
	"context"
	"net"
	"net/http"

	"github.com/jmgilman/go/errors"
)

// statusCode maps a non-200 HTTP status to an error code.
func statusCode(status int) errors.ErrorCode {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return errors.CodeNotFound
	case http.StatusUnauthorized:
		return errors.CodeUnauthorized
	case http.StatusForbidden:
		return errors.CodeForbidden
	case http.StatusTooManyRequests:
		return errors.CodeRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.CodeTimeout
	default:
		if status >= 500 {
			return errors.CodeUnavailable
		}
		return errors.CodeInvalidInput
	}
}

// statusError reports an unexpected HTTP status for url.
func statusError(url string, status int) error {
	err := errors.Newf(statusCode(status), "fetch %s: unexpected status %d", url, status)
	return errors.WithContext(err, "status", status)
}

// transportError classifies a failure to complete the exchange. Timeouts
// and network errors are retryable; cancellation by the caller is not.
func transportError(url string, err error) error {
	if errors.Is(err, context.Canceled) {
		return errors.WithClassification(
			errors.Wrap(err, errors.CodeNetwork, "fetch "+url+": canceled"),
			errors.ClassificationPermanent)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errors.Wrap(err, errors.CodeTimeout, "fetch "+url+": timed out")
	}
	return errors.Wrap(err, errors.CodeNetwork, "fetch "+url)
}
