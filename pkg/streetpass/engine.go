// Package streetpass runs the discovery and encounter protocol: it announces
// the local profile, classifies inbound frames, drives profile exchanges and
// expires old encounters.
package streetpass

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baderanaas/GoPass/pkg/beacon"
	"github.com/baderanaas/GoPass/pkg/config"
	"github.com/baderanaas/GoPass/pkg/encounter"
	"github.com/baderanaas/GoPass/pkg/logging"
	"github.com/baderanaas/GoPass/pkg/notify"
	"github.com/baderanaas/GoPass/pkg/profile"
)

// Transport is the broadcast side of the link layer. Broadcast is fire and
// forget: a nil error does not mean anyone received the frame.
type Transport interface {
	Broadcast(ctx context.Context, frame []byte) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, frame []byte) error

func (f TransportFunc) Broadcast(ctx context.Context, frame []byte) error { return f(ctx, frame) }

// Options configures an Engine. Zero durations are not allowed; use
// OptionsFromConfig for defaults.
type Options struct {
	BroadcastInterval time.Duration
	CleanupInterval   time.Duration
	ExchangeTimeout   time.Duration
	ExchangeRetries   int
	AutoExchange      bool
	DedupWindow       time.Duration

	Clock     clock.Clock
	Logger    *zap.Logger
	Sink      notify.Sink
	Blocklist *Blocklist
}

// OptionsFromConfig returns Options for the discovery section of a config.
func OptionsFromConfig(d config.DiscoveryConfig) Options {
	return Options{
		BroadcastInterval: d.BroadcastInterval,
		CleanupInterval:   d.CleanupInterval,
		ExchangeTimeout:   d.ExchangeTimeout,
		ExchangeRetries:   d.ExchangeRetries,
		AutoExchange:      d.AutoExchange,
		DedupWindow:       d.EffectiveDedupWindow(),
	}
}

type frameKey struct {
	sender profile.PeerID
	typ    beacon.Type
	seq    uint32
}

// Engine is one device's discovery engine.
type Engine struct {
	opts      Options
	self      *profile.Store
	store     *encounter.Store
	transport Transport
	sessions  *Sessions
	blocklist *Blocklist
	sink      notify.Sink
	clock     clock.Clock
	logger    *zap.Logger

	dedupMu sync.Mutex
	dedup   *expirable.LRU[frameKey, struct{}]

	seq   atomic.Uint32
	stats counters
}

// NewEngine wires an engine around the local profile, the encounter store
// and a transport.
func NewEngine(self *profile.Store, store *encounter.Store, transport Transport, opts Options) (*Engine, error) {
	if self == nil || store == nil || transport == nil {
		return nil, errors.New("streetpass: profile store, encounter store and transport are required")
	}
	switch {
	case opts.BroadcastInterval <= 0:
		return nil, fmt.Errorf("%w: broadcast interval must be positive", config.ErrInvalidConfig)
	case opts.CleanupInterval <= 0:
		return nil, fmt.Errorf("%w: cleanup interval must be positive", config.ErrInvalidConfig)
	case opts.ExchangeTimeout <= 0:
		return nil, fmt.Errorf("%w: exchange timeout must be positive", config.ErrInvalidConfig)
	case opts.ExchangeRetries < 0:
		return nil, fmt.Errorf("%w: exchange retries must not be negative", config.ErrInvalidConfig)
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 2 * opts.BroadcastInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Discard
	}
	if opts.Blocklist == nil {
		opts.Blocklist, _ = NewBlocklist("")
	}

	e := &Engine{
		opts:      opts,
		self:      self,
		store:     store,
		transport: transport,
		blocklist: opts.Blocklist,
		sink:      opts.Sink,
		clock:     opts.Clock,
		logger:    opts.Logger.Named(logging.ComponentStreetPass),
		// Room for a beacon and an exchange round from every tracked peer.
		dedup: expirable.NewLRU[frameKey, struct{}](4*store.MaxPeers()*3, nil, opts.DedupWindow),
	}
	// Random start, so frames from a restarted node are not taken for retransmissions.
	e.seq.Store(rand.Uint32())
	e.sessions = newSessions(e.clock, opts.ExchangeTimeout, opts.ExchangeRetries, e.sendRequest, e.exchangeTimedOut, e.logger)
	return e, nil
}

// ID returns the local PeerID.
func (e *Engine) ID() profile.PeerID { return e.self.ID() }

// Profile returns the local profile store.
func (e *Engine) Profile() *profile.Store { return e.self }

// Encounters returns the encounter store.
func (e *Engine) Encounters() *encounter.Store { return e.store }

// Sessions returns the profile exchange sessions.
func (e *Engine) Sessions() *Sessions { return e.sessions }

// Blocklist returns the peers whose frames are dropped.
func (e *Engine) Blocklist() *Blocklist { return e.blocklist }

// Stats returns a snapshot of the diagnostic counters.
func (e *Engine) Stats() Stats {
	s := e.stats.snapshot()
	s.Encounters = e.store.Len()
	s.PendingExchanges = e.sessions.Pending()
	return s
}

// Run announces the local profile every broadcast interval and purges
// expired encounters every cleanup interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer e.sessions.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.beaconLoop(ctx) })
	g.Go(func() error { return e.cleanupLoop(ctx) })

	e.logger.Info("Discovery engine started",
		zap.Stringer("peer_id", e.ID()),
		zap.Duration("broadcast_interval", e.opts.BroadcastInterval),
		zap.Duration("cleanup_interval", e.opts.CleanupInterval),
		zap.Int("max_peers", e.store.MaxPeers()),
		zap.Duration("ttl", e.store.TTL()))

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) beaconLoop(ctx context.Context) error {
	ticker := e.clock.Ticker(e.opts.BroadcastInterval)
	defer ticker.Stop()

	for {
		if err := e.Announce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("Failed to broadcast beacon", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) cleanupLoop(ctx context.Context) error {
	ticker := e.clock.Ticker(e.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Cleanup()
		}
	}
}

// Block ignores every future frame from id and forgets its encounter.
func (e *Engine) Block(id profile.PeerID) error {
	if id == e.ID() {
		return errors.New("cannot block yourself")
	}
	entry := BlockedPeer{PeerID: id, Since: e.clock.Now()}
	if rec, ok := e.store.Get(id); ok && rec.Profile != nil {
		entry.Name = rec.Profile.DisplayName()
	}
	e.blocklist.Add(entry)

	// The block takes effect even if it cannot be persisted.
	e.sessions.Cancel(id)
	if e.store.Remove(id) {
		e.emit(notify.Forgotten, id, notify.ReasonBlocked, entry.Since)
	}
	if err := e.blocklist.Save(); err != nil {
		e.logger.Warn("Blocked peer for this session only", zap.Stringer("peer", id), zap.Error(err))
		return fmt.Errorf("save blocklist: %w", err)
	}
	e.logger.Info("Blocked peer", zap.Stringer("peer", id))
	return nil
}

// Unblock lets frames from id through again. It reports whether id was blocked.
func (e *Engine) Unblock(id profile.PeerID) (bool, error) {
	if !e.blocklist.Remove(id) {
		return false, nil
	}
	if err := e.blocklist.Save(); err != nil {
		return true, fmt.Errorf("save blocklist: %w", err)
	}
	e.logger.Info("Unblocked peer", zap.Stringer("peer", id))
	return true, nil
}

func (e *Engine) emit(kind notify.Kind, id profile.PeerID, reason notify.Reason, at time.Time) {
	e.sink.Notify(notify.Event{Kind: kind, PeerID: id, Reason: reason, At: at})
}
