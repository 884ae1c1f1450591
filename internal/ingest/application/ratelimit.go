package application

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const limiterIdleExpiry = 10 * time.Minute

// DeviceLimiter throttles messages per device with a token bucket. Limiters of idle
// devices expire.
type DeviceLimiter struct {
	limiters *gocache.Cache
	rate     rate.Limit
	burst    int
}

// NewDeviceLimiter returns nil when perSecond is not positive, which disables limiting.
func NewDeviceLimiter(perSecond float64, burst int) *DeviceLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &DeviceLimiter{
		limiters: gocache.New(limiterIdleExpiry, limiterIdleExpiry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether a message for deviceID may proceed at now.
func (l *DeviceLimiter) Allow(deviceID int64, now time.Time) bool {
	if l == nil {
		return true
	}
	return l.limiter(deviceID).AllowN(now, 1)
}

func (l *DeviceLimiter) limiter(deviceID int64) *rate.Limiter {
	key := strconv.FormatInt(deviceID, 10)
	if cached, ok := l.limiters.Get(key); ok {
		l.limiters.SetDefault(key, cached)
		return cached.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.rate, l.burst)
	if err := l.limiters.Add(key, limiter, gocache.DefaultExpiration); err != nil {
		if cached, ok := l.limiters.Get(key); ok {
			return cached.(*rate.Limiter)
		}
	}
	return limiter
}
