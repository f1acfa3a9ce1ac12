package engine

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/openai/openai-go"

	"github.com/kalambet/nyaysaathi/internal/ollama"
)

// ErrUnsupported is returned by operations a backend does not offer.
var ErrUnsupported = errors.New("operation not supported by this engine")

// IsTransient reports whether err is worth retrying: request timeouts,
// rate limiting, server errors and network failures. Context cancellation
// is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *ollama.StatusError
	if errors.As(err, &se) {
		return transientStatus(se.Code)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.StatusCode)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
