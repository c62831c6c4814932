package chat

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// MessageCounter is the slice of the repository the rate limiter needs.
type MessageCounter interface {
	CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountIPMessagesSince(ctx context.Context, ipHash string, since time.Time) (int, error)
}

// RateLimiter admits chat turns against per-user and per-ip caps over a
// trailing window. Counts come from persisted messages, so limits hold
// across process restarts and multiple instances sharing one database.
type RateLimiter struct {
	counter MessageCounter
	window  time.Duration
	perUser int
	perIP   int
	now     func() time.Time
}

func NewRateLimiter(counter MessageCounter) RateLimiter {
	return RateLimiter{
		counter: counter,
		window:  RateWindow,
		perUser: RateLimitPerUser,
		perIP:   RateLimitPerIP,
		now:     time.Now,
	}
}

// Allow returns a RequestError with status 429 when either cap is exhausted,
// and the limiting dimension ("user" or "ip") for logging. A counting failure
// propagates as-is: admission must fail closed, not open.
func (l RateLimiter) Allow(ctx context.Context, userID, ipHash string) (string, error) {
	since := l.now().Add(-l.window)

	var userCount, ipCount int
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		userCount, err = l.counter.CountUserMessagesSince(groupCtx, userID, since)
		return err
	})
	group.Go(func() error {
		var err error
		ipCount, err = l.counter.CountIPMessagesSince(groupCtx, ipHash, since)
		return err
	})
	if err := group.Wait(); err != nil {
		return "", err
	}

	if userCount >= l.perUser {
		return "user", newRequestError(http.StatusTooManyRequests, "Rate limit exceeded. Please slow down.")
	}
	if ipCount >= l.perIP {
		return "ip", newRequestError(http.StatusTooManyRequests, "Rate limit exceeded. Please slow down.")
	}
	return "", nil
}
