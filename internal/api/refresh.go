package api

import (
	"context"
	"sync"
)

// refreshState is the coordinator's explicit state. There are only two: a
// refresh call is either outstanding or it is not.
type refreshState int

const (
	refreshIdle refreshState = iota
	refreshRefreshing
)

type refreshResult struct {
	token string
	err   error
}

// refreshFunc performs the actual token exchange and persists the new pair.
// It returns the new access token.
type refreshFunc func(ctx context.Context) (string, error)

// refresher serializes token refreshes for one client instance. Any number of
// requests that hit a 401 while a refresh is outstanding share the single
// outcome; each waiter holds its own one-shot channel, resolved exactly once.
type refresher struct {
	mu      sync.Mutex
	state   refreshState
	waiters []chan refreshResult
	run     refreshFunc
}

func newRefresher(run refreshFunc) *refresher {
	return &refresher{run: run}
}

// await registers the caller as a pending request and returns the refreshed
// access token once the in-flight refresh settles. The first caller in idle
// state starts the refresh; the state flips to refreshing before control is
// yielded to the network call, so a second near-simultaneous 401 can never
// start a second refresh.
func (r *refresher) await(ctx context.Context) (string, error) {
	ch := make(chan refreshResult, 1)

	r.mu.Lock()
	r.waiters = append(r.waiters, ch)
	if r.state == refreshIdle {
		r.state = refreshRefreshing
		go r.refresh()
	}
	r.mu.Unlock()

	select {
	case res := <-ch:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refresh runs the exchange and fans the outcome out to every waiter that
// queued up while it was in flight. The state returns to idle in all cases;
// there is no retry loop.
func (r *refresher) refresh() {
	token, err := r.run(context.Background())

	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.state = refreshIdle
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
}
