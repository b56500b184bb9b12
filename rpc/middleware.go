package rpc

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-Id"

// requestID tags every request with an identifier for log correlation,
// honouring one supplied by the caller.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := strings.TrimSpace(req.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, req)
	})
}

// rateLimiter throttles mutating routes per client address.
type rateLimiter struct {
	logger   *slog.Logger
	perSec   rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newRateLimiter(requestsPerMinute float64, burst int, logger *slog.Logger) *rateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &rateLimiter{
		logger:   logger,
		perSec:   rate.Limit(requestsPerMinute / 60.0),
		burst:    burst,
		visitors: make(map[string]*rate.Limiter),
	}
}

func (r *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.perSec <= 0 {
			next.ServeHTTP(w, req)
			return
		}
		client := clientID(req)
		if !r.obtain(client).Allow() {
			r.logger.Warn("rate limit exceeded", "client", client, "path", req.URL.Path)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *rateLimiter) obtain(client string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.visitors[client]
	if !ok {
		limiter = rate.NewLimiter(r.perSec, r.burst)
		r.visitors[client] = limiter
	}
	return limiter
}

func clientID(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
