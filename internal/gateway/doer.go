// Package gateway holds the HTTP clients for the sibling services the
// action handlers call: messaging (email, SMS), e-signature, and
// arbitrary webhook targets.
//
// Every outbound request goes through a Doer, which applies a shared
// rate limit and a circuit breaker per host. An open breaker fails fast,
// so a downstream outage degrades to quick FAILED outcomes instead of
// each action waiting out its timeout.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Options configures a Doer.
type Options struct {
	// Timeout bounds one HTTP exchange. Zero means no client timeout;
	// callers still bound requests with their context.
	Timeout time.Duration

	RatePerSecond float64
	Burst         int

	// BreakerFailures consecutive failures open a host's breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// OnStateChange observes breaker transitions (metrics).
	OnStateChange func(host string, from, to gobreaker.State)
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:         8 * time.Second,
		RatePerSecond:   20,
		Burst:           40,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// ErrBreakerOpen is returned while a host's breaker rejects requests.
var ErrBreakerOpen = errors.New("circuit breaker open")

// errServerStatus marks a 5xx response as a breaker failure while the
// response itself is still handed back to the caller.
var errServerStatus = errors.New("server error status")

// Doer is a rate-limited, circuit-breaking http.Client.
type Doer struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDoer creates a Doer. A nil client uses a fresh http.Client with
// opts.Timeout.
func NewDoer(client *http.Client, opts Options) *Doer {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultOptions().BreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = DefaultOptions().BreakerCooldown
	}
	return &Doer{
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Do sends req. It waits for the rate limiter (bounded by the request
// context) and fails fast with ErrBreakerOpen while the host's breaker is
// open. 5xx responses are returned normally but count as failures.
func (d *Doer) Do(req *http.Request) (*http.Response, error) {
	if err := d.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	breaker := d.breaker(req.URL.Host)
	result, err := breaker.Execute(func() (interface{}, error) {
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%s: %w", req.URL.Host, ErrBreakerOpen)
	case errors.Is(err, errServerStatus):
		return result.(*http.Response), nil
	case err != nil:
		return nil, err
	}
	return result.(*http.Response), nil
}

// State reports the breaker state for host.
func (d *Doer) State(host string) gobreaker.State {
	return d.breaker(host).State()
}

func (d *Doer) breaker(host string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[host]; ok {
		return cb
	}
	failures := d.opts.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     d.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about the host.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"host", name,
				"from", from.String(),
				"to", to.String())
			if d.opts.OnStateChange != nil {
				d.opts.OnStateChange(name, from, to)
			}
		},
	})
	d.breakers[host] = cb
	return cb
}
