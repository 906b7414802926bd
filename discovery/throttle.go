package discovery

import (
	"context"
	"sync"
	"time"
)

// HostThrottle serializes requests per host and spaces them by a fixed
// delay. Different hosts proceed independently.
type HostThrottle struct {
	delay time.Duration
	now   func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	sem  chan struct{}
	last time.Time
}

// NewHostThrottle creates a throttle waiting delay between requests to the
// same host.
func NewHostThrottle(delay time.Duration) *HostThrottle {
	return &HostThrottle{
		delay: delay,
		now:   time.Now,
		hosts: make(map[string]*hostSlot),
	}
}

func (t *HostThrottle) slot(host string) *hostSlot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.hosts[host]
	if !ok {
		s = &hostSlot{sem: make(chan struct{}, 1)}
		t.hosts[host] = s
	}
	return s
}

// Acquire blocks until host is free and the delay since its previous request
// has passed. The returned release must be called when the request is done.
func (t *HostThrottle) Acquire(ctx context.Context, host string) (func(), error) {
	s := t.slot(host)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !s.last.IsZero() {
		if wait := s.last.Add(t.delay).Sub(t.now()); wait > 0 {
			if err := sleepContext(ctx, wait); err != nil {
				<-s.sem
				return nil, err
			}
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.last = t.now()
			<-s.sem
		})
	}, nil
}
