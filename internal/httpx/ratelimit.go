package httpx

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ariefcatur/heirloom-checkout/internal/auth"
)

// ipLimiter keeps one token bucket per client. Buckets idle for longer
// than idleTTL are dropped.
type ipLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*bucket
	lastPrune time.Time
	idleTTL   time.Duration
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perSec float64, burst int) *ipLimiter {
	return &ipLimiter{
		limit:   rate.Limit(perSec),
		burst:   burst,
		clients: map[string]*bucket{},
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (l *ipLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastPrune) > time.Minute {
		for k, b := range l.clients {
			if now.Sub(b.seen) > l.idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastPrune = now
	}
	b, ok := l.clients[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *ipLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many checkout attempts, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey prefers the authenticated subject so rotating addresses does not
// earn a fresh bucket. RemoteAddr is only rewritten from proxy headers when
// the router trusts them.
func clientKey(r *http.Request) string {
	if id := auth.FromContext(r.Context()); !id.Anonymous() {
		return "sub:" + id.Subject
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
