package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/metrics"
	"devtoolkit/pkg/response"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	RequestsPerMinute int
	Burst             int
	CleanupInterval   time.Duration
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter throttles requests per client address. It backs the
// auth/too-many-requests error on the sign-in and sign-up routes.
type RateLimiter struct {
	config RateLimiterConfig
	limit  rate.Limit
	scope  string
	rec    metrics.Recorder
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

func NewRateLimiter(scope string, config RateLimiterConfig, rec metrics.Recorder, logger *zap.Logger) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 10
	}
	if config.Burst <= 0 {
		config.Burst = config.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rl := &RateLimiter{
		config:   config,
		limit:    rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		scope:    scope,
		rec:      rec,
		logger:   logger,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		reservation := rl.limiterFor(key).ReserveN(rl.now(), 1)

		if delay := reservation.DelayFrom(rl.now()); delay > 0 {
			reservation.CancelAt(rl.now())
			rl.rec.RecordRateLimited(rl.scope)
			rl.logger.Warn("rate limit exceeded",
				zap.String("client", key),
				zap.String("scope", rl.scope),
			)
			response.TooManyRequests(w, delay, domain.CodeTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok := rl.limiters[key]; ok {
		cl.lastAccess = rl.now()
		return cl.limiter
	}

	cl := &clientLimiter{
		limiter:    rate.NewLimiter(rl.limit, rl.config.Burst),
		lastAccess: rl.now(),
	}
	rl.limiters[key] = cl
	return cl.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops limiters idle for more than two cleanup intervals.
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
