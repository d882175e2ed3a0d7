package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	idleBucketTTL = time.Hour        // 空闲超过该时长的客户端桶会被清理
	sweepEvery    = 30 * time.Minute // 清理周期
)

// bucket 单个客户端的令牌桶
type bucket struct {
	tokens   int
	windowAt time.Time
}

// take refills the bucket when its window has passed, then spends one token.
func (b *bucket) take(now time.Time, capacity int, window time.Duration) bool {
	if now.Sub(b.windowAt) >= window {
		b.tokens = capacity
		b.windowAt = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter 按客户端 IP 限流，每个窗口整桶补满
type RateLimiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	buckets  map[string]*bucket
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows capacity requests per client per window and starts
// the idle-bucket sweeper. Call Stop to end it.
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		capacity: capacity,
		window:   window,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (r *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.done:
			return
		}
	}
}

func (r *RateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for key, b := range r.buckets {
		if now.Sub(b.windowAt) > idleBucketTTL {
			delete(r.buckets, key)
		}
	}
}

// Stop 停止后台清理，可重复调用
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Allow 判断该客户端本次请求是否放行
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[client]
	if !ok {
		// zero windowAt forces a refill on first use
		b = &bucket{}
		r.buckets[client] = b
	}
	return b.take(r.now(), r.capacity, r.window)
}

// RateLimit rejects requests over the limiter's budget with 429. A nil limiter
// lets everything through.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
