// Package notify fans change notifications out to connected observers.
//
// Every subscriber owns a small buffered queue drained by its own Serve
// goroutine, so a slow connection never delays the others. A heartbeat
// loop keeps idle connections alive and evicts subscribers that have not
// completed a write for longer than the stale timeout.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/shared-lists/internal/apperror"
	"github.com/sakif/shared-lists/internal/metrics"
)

// Event types sent to subscribers.
const (
	TypeConnected = "connected"
	TypeUpdate    = "update"
)

// Change kinds carried by update events.
const (
	KindItems = "items"
	KindLists = "lists"
	KindUsers = "users"
)

// Event is the JSON payload of one notification.
type Event struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// Sink delivers events to one subscriber connection.
// Implementations bound every write with their own deadline.
type Sink interface {
	Send(ev Event) error
	Heartbeat() error
}

// State is the lifecycle position of a subscriber.
type State int

const (
	// Connected: the last write succeeded within one heartbeat interval.
	Connected State = iota
	// Stale: a heartbeat interval passed without a successful write.
	Stale
	// Evicted: removed from the registry. Terminal.
	Evicted
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Stale:
		return "stale"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

type Options struct {
	HeartbeatInterval time.Duration
	StaleTimeout      time.Duration
	// Buffer is the number of undelivered messages kept per subscriber.
	Buffer  int
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = 2 * o.HeartbeatInterval
	}
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type message struct {
	heartbeat bool
	ev        Event
}

type subscriber struct {
	id      string
	msgs    chan message
	evicted chan struct{}

	mu        sync.Mutex
	lastWrite time.Time
	state     State
}

func (s *subscriber) written(now time.Time) {
	s.mu.Lock()
	s.lastWrite = now
	if s.state == Stale {
		s.state = Connected
	}
	s.mu.Unlock()
}

func (s *subscriber) isEvicted() bool {
	select {
	case <-s.evicted:
		return true
	default:
		return false
	}
}

// enqueue never blocks. When the buffer is full the subscriber already has
// an undelivered update pending and m is coalesced into it.
func (s *subscriber) enqueue(m message) bool {
	select {
	case s.msgs <- m:
		return true
	default:
		return false
	}
}

// Notifier is the subscriber registry.
type Notifier struct {
	logger  *slog.Logger
	opts    Options
	metrics *metrics.Metrics

	mu   sync.RWMutex
	subs map[string]*subscriber

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(logger *slog.Logger, opts Options) *Notifier {
	opts.setDefaults()
	return &Notifier{
		logger:  logger,
		opts:    opts,
		metrics: opts.Metrics,
		subs:    make(map[string]*subscriber),
		done:    make(chan struct{}),
	}
}

// Start launches the heartbeat loop.
func (n *Notifier) Start() {
	n.startOnce.Do(func() {
		n.wg.Add(1)
		go n.heartbeatLoop()

		n.logger.Info("notifier started",
			slog.Duration("heartbeat_interval", n.opts.HeartbeatInterval),
			slog.Duration("stale_timeout", n.opts.StaleTimeout),
		)
	})
}

// Stop ends the heartbeat loop and evicts every subscriber, which makes
// their Serve calls return.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.done)
		n.wg.Wait()

		n.mu.RLock()
		subs := make([]*subscriber, 0, len(n.subs))
		for _, s := range n.subs {
			subs = append(subs, s)
		}
		n.mu.RUnlock()

		for _, s := range subs {
			n.evict(s, "shutdown")
		}
		n.logger.Info("notifier stopped", slog.Int("evicted", len(subs)))
	})
}

// Count returns the number of registered subscribers.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// ErrStopped is returned by Serve once Stop has been called.
var ErrStopped = errors.New("notify: notifier stopped")

// Serve registers a subscriber for sink and delivers its events until ctx
// ends, the subscriber is evicted, or a write fails. It always unregisters
// the subscriber before returning. A write failure is returned as a
// connection error for logging; the caller has nothing to tell the client.
// After Stop, Serve returns ErrStopped without writing anything.
func (n *Notifier) Serve(ctx context.Context, sink Sink) error {
	sub, ok := n.register()
	if !ok {
		return ErrStopped
	}
	defer n.unregister(sub)

	if err := sink.Send(Event{Type: TypeConnected, ClientID: sub.id}); err != nil {
		return n.writeFailed(sub, err)
	}
	sub.written(n.opts.Now())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.evicted:
			return nil
		case m := <-sub.msgs:
			// Both cases may be ready at once and select picks at random.
			if sub.isEvicted() {
				return nil
			}
			var err error
			if m.heartbeat {
				err = sink.Heartbeat()
			} else {
				err = sink.Send(m.ev)
			}
			if err != nil {
				return n.writeFailed(sub, err)
			}
			sub.written(n.opts.Now())
		}
	}
}

// Broadcast queues an update of the given kind for every subscriber.
// It never blocks on a subscriber.
func (n *Notifier) Broadcast(kind string) {
	m := message{ev: Event{Type: TypeUpdate, Kind: kind}}

	n.mu.RLock()
	delivered, coalesced := 0, 0
	for _, s := range n.subs {
		if s.enqueue(m) {
			delivered++
		} else {
			coalesced++
		}
	}
	n.mu.RUnlock()

	n.metrics.Broadcast(kind)
	n.logger.Debug("broadcast",
		slog.String("kind", kind),
		slog.Int("queued", delivered),
		slog.Int("coalesced", coalesced),
	)
}

// register adds a new subscriber. It reports false once the notifier is
// stopped; the check happens under n.mu so Stop sees every subscriber that
// got in before it.
func (n *Notifier) register() (*subscriber, bool) {
	s := &subscriber{
		id:        xid.New().String(),
		msgs:      make(chan message, n.opts.Buffer),
		evicted:   make(chan struct{}),
		lastWrite: n.opts.Now(),
		state:     Connected,
	}

	n.mu.Lock()
	select {
	case <-n.done:
		n.mu.Unlock()
		return nil, false
	default:
	}
	n.subs[s.id] = s
	count := len(n.subs)
	n.mu.Unlock()

	n.metrics.Subscribers(count)
	n.logger.Debug("subscriber connected", slog.String("client_id", s.id), slog.Int("subscribers", count))
	return s, true
}

func (n *Notifier) unregister(s *subscriber) {
	n.mu.Lock()
	_, ok := n.subs[s.id]
	delete(n.subs, s.id)
	count := len(n.subs)
	n.mu.Unlock()

	if ok {
		n.metrics.Subscribers(count)
		n.logger.Debug("subscriber disconnected", slog.String("client_id", s.id), slog.Int("subscribers", count))
	}
}

// evict removes s from the registry and signals its Serve loop.
// Only the first call has any effect.
func (n *Notifier) evict(s *subscriber, reason string) {
	s.mu.Lock()
	if s.state == Evicted {
		s.mu.Unlock()
		return
	}
	s.state = Evicted
	s.mu.Unlock()
	close(s.evicted)

	n.mu.Lock()
	delete(n.subs, s.id)
	count := len(n.subs)
	n.mu.Unlock()

	n.metrics.Eviction(reason)
	n.metrics.Subscribers(count)
	n.logger.Debug("subscriber evicted",
		slog.String("client_id", s.id),
		slog.String("reason", reason),
	)
}

func (n *Notifier) writeFailed(s *subscriber, err error) error {
	n.evict(s, "write_failed")
	return apperror.ConnectionFailed(s.id, err)
}

func (n *Notifier) heartbeatLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			n.tick()
		}
	}
}

// tick queues a heartbeat for every subscriber and updates their state.
// A subscriber whose last successful write is older than the stale timeout
// is evicted.
func (n *Notifier) tick() {
	now := n.opts.Now()

	n.mu.RLock()
	subs := make([]*subscriber, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		idle := now.Sub(s.lastWrite)
		if idle > n.opts.HeartbeatInterval && s.state == Connected {
			s.state = Stale
		}
		s.mu.Unlock()

		if idle > n.opts.StaleTimeout {
			n.evict(s, "stale")
			continue
		}
		s.enqueue(message{heartbeat: true})
	}
}

// State returns the state of the subscriber with the given id. Unknown ids
// are reported as Evicted.
func (n *Notifier) State(id string) State {
	n.mu.RLock()
	s, ok := n.subs[id]
	n.mu.RUnlock()
	if !ok {
		return Evicted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
