package transport

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries a per-call identifier the backend can log.
const RequestIDHeader = "X-Request-ID"

// RequestID stamps every request with a fresh UUID unless one is set.
func RequestID() RequestInterceptor {
	return func(r *http.Request) error {
		if r.Header.Get(RequestIDHeader) == "" {
			r.Header.Set(RequestIDHeader, uuid.NewString())
		}
		return nil
	}
}
