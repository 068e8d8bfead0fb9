package speech

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultPingInterval keeps engines that go deaf after ~10s of silence awake.
const DefaultPingInterval = 12 * time.Second

// Pingable is anything that can send a keep-alive utterance.
type Pingable interface {
	Ping() bool
}

// Pinger periodically nudges the engine while a session is playing.
type Pinger struct {
	target   Pingable
	interval time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewPinger creates a pinger. A non-positive interval uses DefaultPingInterval.
func NewPinger(target Pingable, interval time.Duration, logger *log.Logger) *Pinger {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pinger{
		target:   target,
		interval: interval,
		logger:   logger.WithPrefix("keepalive"),
	}
}

// Start begins ticking. Each tick pings only when active reports true.
// Starting a running pinger is a no-op and returns false.
func (p *Pinger) Start(active func() bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return false
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop, p.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if active != nil && !active() {
					continue
				}
				if p.target.Ping() {
					p.logger.Debug("Sent keep-alive")
				}
			}
		}
	}()
	return true
}

// Stop clears the ticker and waits for the tick goroutine to exit.
func (p *Pinger) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the ticker is active.
func (p *Pinger) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}
