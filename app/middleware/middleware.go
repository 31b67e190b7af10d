// Package middleware holds route middleware for the demo application.
package middleware

import (
	"mime"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/minifast/minifast/httperror"
	"github.com/minifast/minifast/router"
)

// RequireJSON rejects requests that carry a body in any other format.
func RequireJSON(c *router.Call) error {
	if len(c.Body) > 0 {
		mediaType, _, _ := mime.ParseMediaType(c.Request.Header.Get("Content-Type"))
		if mediaType != "application/json" {
			return httperror.New(http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		}
	}
	return c.Next()
}

// Throttle limits each client address to rps requests per second with the
// given burst.
type Throttle struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idleAfter is how long an address is remembered without requests.
const idleAfter = 10 * time.Minute

// NewThrottle returns a Throttle. A burst below one is raised to one.
func NewThrottle(rps float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (t *Throttle) limiter(addr string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, v := range t.limiters {
		if now.Sub(v.lastSeen) > idleAfter {
			delete(t.limiters, k)
		}
	}
	v, ok := t.limiters[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.limiters[addr] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Handle is the route middleware.
func (t *Throttle) Handle(c *router.Call) error {
	if !t.limiter(clientAddr(c.Request)).AllowN(t.now(), 1) {
		c.Response.Header().Set("Retry-After", "1")
		return httperror.TooManyRequests("Too many requests")
	}
	return c.Next()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
