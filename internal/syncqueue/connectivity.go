package syncqueue

import (
	"context"
	"sync"
	"time"

	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectivityObserver reports whether the remote is reachable and
// notifies subscribers on transitions.
type ConnectivityObserver interface {
	Subscribe(onOnline, onOffline func()) (unsubscribe func())
	IsOnline() bool
}

type subscriber struct {
	onOnline  func()
	onOffline func()
}

// ManualConnectivity is a ConnectivityObserver driven by SetOnline
type ManualConnectivity struct {
	mu     sync.Mutex
	online bool
	subs   map[int]subscriber
	nextID int
}

// NewManualConnectivity creates an observer in the given state
func NewManualConnectivity(online bool) *ManualConnectivity {
	return &ManualConnectivity{online: online, subs: make(map[int]subscriber)}
}

func (c *ManualConnectivity) Subscribe(onOnline, onOffline func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = subscriber{onOnline: onOnline, onOffline: onOffline}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *ManualConnectivity) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records the state and, on a transition, calls the matching
// callback of every subscriber outside the lock.
func (c *ManualConnectivity) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	subs := make([]subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	if online {
		observability.ConnectivityOnline.Set(1)
	} else {
		observability.ConnectivityOnline.Set(0)
	}

	for _, s := range subs {
		cb := s.onOffline
		if online {
			cb = s.onOnline
		}
		if cb != nil {
			cb()
		}
	}
}

// Pinger checks the remote
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// MongoPinger pings the primary of db's deployment
func MongoPinger(db *mongo.Database) Pinger {
	return PingerFunc(func(ctx context.Context) error {
		return db.Client().Ping(ctx, readpref.Primary())
	})
}

// ProbeConnectivity flips its state from periodic pings of the remote
type ProbeConnectivity struct {
	*ManualConnectivity
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *logging.SafeLogger

	stopChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewProbeConnectivity starts offline until the first successful ping
func NewProbeConnectivity(pinger Pinger, interval time.Duration) *ProbeConnectivity {
	timeout := 2 * time.Second
	if interval > 0 && interval < timeout {
		timeout = interval
	}
	return &ProbeConnectivity{
		ManualConnectivity: NewManualConnectivity(false),
		pinger:             pinger,
		interval:           interval,
		timeout:            timeout,
		logger:             logging.Logger.Named("connectivity"),
		stopChan:           make(chan struct{}),
	}
}

// Check pings once and updates the state
func (p *ProbeConnectivity) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil
	if online != p.IsOnline() {
		if online {
			p.logger.Info("remote reachable, going online")
		} else {
			p.logger.Warn("remote unreachable, going offline", zap.Error(err))
		}
	}
	p.SetOnline(online)
	return online
}

// Start checks immediately and then every interval until Stop
func (p *ProbeConnectivity) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.Check(context.Background())
			if p.interval <= 0 {
				return
			}

			ticker := time.NewTicker(p.interval)
			defer ticker.Stop()
			for {
				select {
				case <-p.stopChan:
					return
				case <-ticker.C:
					p.Check(context.Background())
				}
			}
		}()
	})
}

// Stop ends the probe loop. It is safe to call more than once.
func (p *ProbeConnectivity) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}
