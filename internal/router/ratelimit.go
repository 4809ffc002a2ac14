package router

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxTrackedIPs bounds the limiter table; the least recently seen entries
// are dropped once it is full.
const maxTrackedIPs = 10000

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter applies a token bucket per client address.
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*ipEntry
	limit   rate.Limit
	burst   int
	max     int
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
}

// NewIPLimiter allows perMinute requests per address with the given burst.
func NewIPLimiter(perMinute, burst int, clock clockwork.Clock, logger *zap.SugaredLogger) *IPLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &IPLimiter{
		clients: make(map[string]*ipEntry),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		max:     maxTrackedIPs,
		clock:   clock,
		logger:  logger,
	}
}

// Allow consumes one token for ip.
func (l *IPLimiter) Allow(ip string) bool {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= l.max {
			l.evictOldest()
		}
		e = &ipEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *IPLimiter) evictOldest() {
	var oldest string
	var at time.Time
	for ip, e := range l.clients {
		if oldest == "" || e.lastSeen.Before(at) {
			oldest, at = ip, e.lastSeen
		}
	}
	delete(l.clients, oldest)
}

// Middleware answers 429 once the client's bucket is empty.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			l.logger.Infow("rate limited", "remote", ip, "path", r.URL.Path)
			http.Error(w, "Too many requests.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
