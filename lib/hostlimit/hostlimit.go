// Package hostlimit throttles outbound requests per target host so
// parallel scraping against one site stays polite while work against
// other hosts is unaffected.
package hostlimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	hosts    map[string]*rate.Limiter
}

// New creates a limiter enforcing a minimum delay between requests to
// the same host. A non-positive delay disables throttling.
func New(minDelay time.Duration) *Limiter {
	return &Limiter{
		interval: minDelay,
		hosts:    map[string]*rate.Limiter{},
	}
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.hosts[host]
	if !ok {
		// burst of 1 means requests to one host are strictly spaced
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.hosts[host] = limiter
	}
	return limiter
}

func (l *Limiter) Wait(ctx context.Context, rawurl string) error {
	if l == nil || l.interval <= 0 {
		return nil
	}
	u, err := url.Parse(rawurl)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	return l.limiterFor(u.Hostname()).Wait(ctx)
}

// Attach mounts the limiter on a resty client.
func Attach(client *resty.Client, l *Limiter) {
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return l.Wait(req.Context(), req.URL)
	})
}
