package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"rccrawler/internal/browser"
	"rccrawler/internal/logging"
)

// ErrOverCapacity is returned when an acquisition exceeds the bucket size
var ErrOverCapacity = errors.New("can't acquire more than the bucket capacity")

// milli scales fractional amounts to whole limiter tokens
const milli = 1000

// Limit allows MaxRate acquisitions per Period
type Limit struct {
	MaxRate float64       `json:"max_rate"`
	Period  time.Duration `json:"period"`
}

func (l Limit) String() string {
	return fmt.Sprintf("%g/%s", l.MaxRate, l.Period)
}

// Bucket is a leaky bucket of capacity MaxRate that drains MaxRate per Period
type Bucket struct {
	capacity float64
	limiter  *rate.Limiter
}

// NewBucket creates an empty bucket for l
func NewBucket(l Limit) (*Bucket, error) {
	if l.MaxRate <= 0 || l.Period <= 0 {
		return nil, fmt.Errorf("invalid rate limit %s", l)
	}
	perSecond := l.MaxRate / l.Period.Seconds()
	return &Bucket{
		capacity: l.MaxRate,
		limiter:  rate.NewLimiter(rate.Limit(perSecond*milli), int(math.Floor(l.MaxRate*milli))),
	}, nil
}

// Capacity is the largest amount that can be acquired at once
func (b *Bucket) Capacity() float64 {
	return b.capacity
}

// Acquire blocks until amount fits in the bucket
func (b *Bucket) Acquire(ctx context.Context, amount float64) error {
	if amount > b.capacity {
		return fmt.Errorf("%w: %g > %g", ErrOverCapacity, amount, b.capacity)
	}
	n := int(math.Ceil(amount * milli))
	if n > b.limiter.Burst() {
		n = b.limiter.Burst()
	}
	return b.limiter.WaitN(ctx, n)
}

// RateLimit makes every download acquire a random amount in [1, 2) from each
// bucket first, so request spacing is irregular.
func RateLimit(limits []Limit) (Middleware, error) {
	buckets := make([]*Bucket, 0, len(limits))
	for _, l := range limits {
		b, err := NewBucket(l)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return rateLimit(buckets, randomAmount), nil
}

// randomAmount is uniform in [1, 2)
func randomAmount() float64 {
	return 1 + rand.Float64()
}

func rateLimit(buckets []*Bucket, jitter func() float64) Middleware {
	log := logging.For("rate_limiter")
	return func(next DownloadFunc) DownloadFunc {
		return func(ctx context.Context, req browser.Request) browser.Result {
			for _, b := range buckets {
				amount := math.Min(jitter(), b.Capacity())
				if err := b.Acquire(ctx, amount); err != nil {
					log.Warn("rate limiter aborted", "url", req.URL, "error", err)
					return browser.Result{Outcome: browser.Failure, Reason: browser.DescribeError(err)}
				}
			}
			return next(ctx, req)
		}
	}
}
