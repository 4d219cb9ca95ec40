package session

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// maxRedirects bounds how many guard redirects a single navigation follows.
const maxRedirects = 5

// Router tracks the current view and moves between views through the Guard.
// It implements Navigator.
type Router struct {
	mu       sync.Mutex
	guard    *Guard
	location string
	logger   *zap.Logger
}

// NewRouter returns a Router positioned at start. start is not admitted.
func NewRouter(guard *Guard, start string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{guard: guard, location: start, logger: logger.Named("router")}
}

// Location returns the current view location.
func (r *Router) Location() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location
}

// Push navigates to target, following guard redirects. On success the
// location is the view that was finally admitted and its decision is
// returned.
func (r *Router) Push(target string) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := target
	for i := 0; i <= maxRedirects; i++ {
		d := r.guard.Admit(to)
		if !d.Found {
			return d, fmt.Errorf("%w: %s", ErrUnknownRoute, to)
		}
		if d.Allow {
			if to != target {
				r.logger.Debug("navigation redirected",
					zap.String("target", target),
					zap.String("to", to),
				)
			}
			r.location = to
			return d, nil
		}
		to = d.Redirect
	}
	return Decision{}, fmt.Errorf("%w: %s", ErrRedirectLoop, target)
}

// Navigate implements Navigator. Failures leave the location unchanged.
func (r *Router) Navigate(to string) {
	if _, err := r.Push(to); err != nil {
		r.logger.Warn("navigation failed", zap.String("to", to), zap.Error(err))
	}
}
