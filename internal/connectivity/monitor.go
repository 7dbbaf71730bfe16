// Package connectivity tracks network reachability of the remote API
// and notifies subscribers on transition edges.
package connectivity

import (
	"context"
	"sync"
	"time"
)

// Probe checks reachability; a nil error means online.
type Probe func(ctx context.Context) error

// Monitor polls a reachability probe and emits a value on every
// transition edge only (online to offline or back), never on repeats.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu     sync.Mutex
	online bool
	subs   []chan bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor around probe. The initial state is offline
// until the first probe or an explicit Set. A zero interval defaults
// to five seconds.
func New(probe Probe, interval time.Duration) *Monitor {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Monitor{probe: probe, interval: interval}
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set overrides the connectivity state, emitting to subscribers when
// the value changes. Used for forced-offline operation and by tests.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan bool, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			// Subscriber not keeping up; drop rather than block.
		}
	}
}

// Changes returns a channel receiving the state after each transition.
func (m *Monitor) Changes() <-chan bool {
	ch := make(chan bool, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// CheckNow runs one probe synchronously and updates the state.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	online := m.probe(ctx) == nil
	m.Set(online)
	return online
}

// Start begins polling the probe until ctx is cancelled or Stop is
// called. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.CheckNow(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for the poll loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
