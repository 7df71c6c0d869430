package cacheserver

import (
	"sync"
	"time"
)

// Idle signals once a server has gone a full timeout without serving a request. Requests in
// flight hold the timer off, so a slow upload never outlives its server.
type Idle struct {
	mu      sync.Mutex
	timeout time.Duration
	started time.Time
	last    time.Time
	active  int
	timer   *time.Timer

	done     chan struct{}
	doneOnce sync.Once
}

// NewIdle returns an Idle that expires after timeout. A zero timeout never expires on its own.
func NewIdle(timeout time.Duration) *Idle {
	now := time.Now()
	i := &Idle{
		timeout: timeout,
		started: now,
		last:    now,
		done:    make(chan struct{}),
	}
	if timeout > 0 {
		i.timer = time.AfterFunc(timeout, i.expire)
	}
	return i
}

// Begin marks a request as started and returns the func that marks it finished.
func (i *Idle) Begin() (end func()) {
	i.mu.Lock()
	i.active++
	i.last = time.Now()
	if i.timer != nil {
		i.timer.Stop()
	}
	i.mu.Unlock()

	return sync.OnceFunc(func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		i.active--
		i.last = time.Now()
		if i.active == 0 && i.timer != nil {
			i.timer.Reset(i.timeout)
		}
	})
}

// Remaining is the time left before expiry. It is zero when expiry is disabled and the full
// timeout while requests are in flight.
func (i *Idle) Remaining() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch {
	case i.timeout <= 0:
		return 0
	case i.active > 0:
		return i.timeout
	}
	return max(i.timeout-time.Since(i.last), 0)
}

// Uptime is the time since the server started.
func (i *Idle) Uptime() time.Duration {
	return time.Since(i.started)
}

// Done is closed on expiry or Stop.
func (i *Idle) Done() <-chan struct{} {
	return i.done
}

// Stop closes Done. It is safe to call more than once.
func (i *Idle) Stop() {
	if i.timer != nil {
		i.timer.Stop()
	}
	i.doneOnce.Do(func() { close(i.done) })
}

func (i *Idle) expire() {
	i.mu.Lock()
	busy := i.active > 0
	i.mu.Unlock()
	if !busy {
		i.Stop()
	}
}
