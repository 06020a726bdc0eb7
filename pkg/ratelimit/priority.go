package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// validatorPaths and minerPaths classify requests by URL substring, ported
// directly from priority.py's path lists (spec.md §4.7).
var (
	validatorPaths = []string{"/epoch/", "/validate"}
	minerPaths     = []string{"/presign", "/submit"}
)

// PriorityMiddleware lets validator requests bypass throttling entirely
// while gating miner requests behind a bounded concurrency semaphore, so a
// burst of miner submissions can never starve a validator's reveal call
// near an epoch boundary (spec.md §4.7).
type PriorityMiddleware struct {
	sem    chan struct{}
	logger zerolog.Logger
}

// NewPriorityMiddleware builds a PriorityMiddleware allowing up to
// maxConcurrentMiners in-flight miner requests at a time.
func NewPriorityMiddleware(maxConcurrentMiners int, logger zerolog.Logger) *PriorityMiddleware {
	return &PriorityMiddleware{
		sem:    make(chan struct{}, maxConcurrentMiners),
		logger: logger.With().Str("component", "priority_middleware").Logger(),
	}
}

// Wrap returns an http.Handler that applies the priority policy before
// delegating to next.
func (m *PriorityMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if matchesAny(path, validatorPaths) {
			next.ServeHTTP(w, r)
			return
		}

		if matchesAny(path, minerPaths) {
			start := time.Now()
			select {
			case m.sem <- struct{}{}:
			default:
				m.logger.Debug().Str("path", path).Msg("miner request throttled, queue full")
				m.sem <- struct{}{}
			}
			defer func() { <-m.sem }()

			if waited := time.Since(start); waited > 100*time.Millisecond {
				m.logger.Debug().Str("path", path).Dur("waited", waited).Msg("miner request waited for slot")
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func matchesAny(path string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(path, s) {
			return true
		}
	}
	return false
}
