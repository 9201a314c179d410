package evaluator

import (
	"context"
	"sync"
)

// flight is the context a coalesced root evaluation runs under. It is
// detached from any one caller and canceled once the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type flights struct {
	mu sync.Mutex
	m  map[string]*flight
}

// join registers a waiter on key, starting a flight if none is open. The
// flight keeps ctx's values but not its cancellation.
func (fs *flights) join(ctx context.Context, key string) *flight {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.m == nil {
		fs.m = make(map[string]*flight)
	}
	fl, ok := fs.m[key]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: runCtx, cancel: cancel}
		fs.m[key] = fl
	}
	fl.waiters++
	return fl
}

func (fs *flights) leave(key string, fl *flight) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if fs.m[key] == fl {
		delete(fs.m, key)
	}
}

// waiting returns the number of callers on key's open flight.
func (fs *flights) waiting(key string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fl, ok := fs.m[key]; ok {
		return fl.waiters
	}
	return 0
}
