package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	// DefaultRequestsPerMinute is the token budget per client when none is
	// configured.
	DefaultRequestsPerMinute = 600

	// DefaultMaxTrackedClients bounds the bucket map.
	DefaultMaxTrackedClients = 10000

	cleanupInterval = time.Minute
	staleThreshold  = 5 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address. A bucket holds a
// minute's budget and refills evenly, so a till can burst through a rush and
// is then paced.
type RateLimiter struct {
	mu                sync.Mutex
	buckets           map[string]*bucket
	perMinute         int
	maxTrackedClients int
	now               func() time.Time
	cancel            context.CancelFunc
}

// NewRateLimiter starts a limiter with perMinute tokens per client. Zero or
// less selects DefaultRequestsPerMinute. The stale-bucket sweeper stops with
// ctx or Stop.
func NewRateLimiter(ctx context.Context, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		buckets:           make(map[string]*bucket),
		perMinute:         perMinute,
		maxTrackedClients: DefaultMaxTrackedClients,
		now:               time.Now,
		cancel:            cancel,
	}
	go rl.sweep(ctx)
	return rl
}

// Allow spends one token for client.
func (rl *RateLimiter) Allow(client string) bool {
	ok, _ := rl.Take(client, 1)
	return ok
}

// Take spends cost tokens for client. When the bucket is short it spends
// nothing and reports how long until cost tokens are available. A cost above
// the whole budget can never be met and reports a one-minute wait.
func (rl *RateLimiter) Take(client string, cost int) (bool, time.Duration) {
	if cost < 1 {
		cost = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.bucketLocked(client, now)
	r := b.limiter.ReserveN(now, cost)
	if !r.OK() {
		return false, time.Minute
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// RetryAfter is the refill time of a single token.
func (rl *RateLimiter) RetryAfter() time.Duration {
	return time.Minute / time.Duration(rl.perMinute)
}

func (rl *RateLimiter) bucketLocked(client string, now time.Time) *bucket {
	b, ok := rl.buckets[client]
	if !ok {
		if len(rl.buckets) >= rl.maxTrackedClients {
			rl.evictLeastRecentLocked()
		}
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60), rl.perMinute),
		}
		rl.buckets[client] = b
	}
	b.lastSeen = now
	return b
}

// Stop ends the sweeper.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.removeStale()
		}
	}
}

// removeStale drops buckets idle past staleThreshold. An idle bucket has
// refilled completely, so recreating it later changes nothing.
func (rl *RateLimiter) removeStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-staleThreshold)
	for client, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, client)
		}
	}
}

func (rl *RateLimiter) evictLeastRecentLocked() {
	var victim string
	var victimSeen time.Time
	for client, b := range rl.buckets {
		if victim == "" || b.lastSeen.Before(victimSeen) {
			victim, victimSeen = client, b.lastSeen
		}
	}
	delete(rl.buckets, victim)
}

// RateLimitOption configures HTTPRateLimit and UnaryRateLimitInterceptor.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	onLimited   func()
	requestCost func(*http.Request) int
	methodCost  func(fullMethod string) int
}

// WithOnLimited registers a callback run for every rejected call.
func WithOnLimited(fn func()) RateLimitOption {
	return func(c *rateLimitConfig) {
		c.onLimited = fn
	}
}

// WithRequestCost prices HTTP requests in tokens. Catalog edits rebuild the
// in-memory catalog on every replica and are charged more than quotes.
func WithRequestCost(fn func(*http.Request) int) RateLimitOption {
	return func(c *rateLimitConfig) {
		c.requestCost = fn
	}
}

// WithMethodCost prices gRPC methods in tokens.
func WithMethodCost(fn func(fullMethod string) int) RateLimitOption {
	return func(c *rateLimitConfig) {
		c.methodCost = fn
	}
}

func newRateLimitConfig(opts []RateLimitOption) rateLimitConfig {
	cfg := rateLimitConfig{
		onLimited:   func() {},
		requestCost: func(*http.Request) int { return 1 },
		methodCost:  func(string) int { return 1 },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// HTTPRateLimit answers over-budget requests with 429 and a Retry-After
// header in whole seconds.
func HTTPRateLimit(rl *RateLimiter, opts ...RateLimitOption) func(http.Handler) http.Handler {
	cfg := newRateLimitConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := rl.Take(ExtractIP(r.RemoteAddr), cfg.requestCost(r))
			if !ok {
				cfg.onLimited()
				LoggerFromContext(r.Context()).WarnContext(r.Context(), "rate limited",
					slog.String("remote_addr", r.RemoteAddr),
					slog.Duration("retry_after", wait),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UnaryRateLimitInterceptor fails over-budget calls with ResourceExhausted.
func UnaryRateLimitInterceptor(rl *RateLimiter, opts ...RateLimitOption) grpc.UnaryServerInterceptor {
	cfg := newRateLimitConfig(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var client string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			client = ExtractIP(p.Addr.String())
		}
		ok, wait := rl.Take(client, cfg.methodCost(info.FullMethod))
		if !ok {
			cfg.onLimited()
			LoggerFromContext(ctx).WarnContext(ctx, "rate limited",
				slog.String("method", info.FullMethod),
				slog.Duration("retry_after", wait),
			)
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %ds", retryAfterSeconds(wait))
		}
		return handler(ctx, req)
	}
}

func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// ExtractIP strips the port from a host:port address.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
