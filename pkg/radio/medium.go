// Package radio simulates a shared broadcast channel in memory. Every frame
// an endpoint broadcasts reaches every other endpoint in range, unless the
// medium's drop function loses it.
package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/beacon"
	"github.com/baderanaas/GoPass/pkg/profile"
)

var (
	// ErrFrameTooLarge is returned for frames over beacon.MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds radio MTU")
	// ErrDetached is returned by Broadcast after Leave.
	ErrDetached = errors.New("endpoint left the medium")
)

// Handler receives a frame and the link-level sender.
type Handler func(ctx context.Context, frame []byte, from profile.PeerID)

// DropFunc decides whether a frame from one endpoint is lost on its way to
// another. It models both range and interference.
type DropFunc func(from, to profile.PeerID, frame []byte) bool

// Option configures a Medium.
type Option func(*Medium)

// WithEcho makes senders hear their own broadcasts, as half-duplex radios
// often do.
func WithEcho() Option {
	return func(m *Medium) { m.echo = true }
}

// WithDrop installs a drop function.
func WithDrop(fn DropFunc) Option {
	return func(m *Medium) { m.drop = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Medium) { m.logger = logger }
}

// Medium is the shared channel. Delivery is synchronous: Broadcast returns
// after every receiver's handler has returned, in join order.
type Medium struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	drop      DropFunc
	echo      bool
	logger    *zap.Logger

	sent, delivered, dropped uint64
}

func NewMedium(opts ...Option) *Medium {
	m := &Medium{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetDrop replaces the drop function; nil delivers everything.
func (m *Medium) SetDrop(fn DropFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop = fn
}

// Join attaches a new endpoint identified by id.
func (m *Medium) Join(id profile.PeerID, h Handler) *Endpoint {
	ep := &Endpoint{id: id, medium: m, handler: h}
	m.mu.Lock()
	m.endpoints = append(m.endpoints, ep)
	m.mu.Unlock()
	return ep
}

// Counts returns the number of frames sent, delivered and dropped.
func (m *Medium) Counts() (sent, delivered, dropped uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sent, m.delivered, m.dropped
}

func (m *Medium) leave(ep *Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.endpoints {
		if e == ep {
			m.endpoints = append(m.endpoints[:i], m.endpoints[i+1:]...)
			return
		}
	}
}

func (m *Medium) broadcast(ctx context.Context, from *Endpoint, frame []byte) error {
	if len(frame) > beacon.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}

	m.mu.Lock()
	attached := false
	var targets []*Endpoint
	for _, ep := range m.endpoints {
		if ep == from {
			attached = true
			if !m.echo {
				continue
			}
		}
		if m.drop != nil && m.drop(from.id, ep.id, frame) {
			m.dropped++
			continue
		}
		targets = append(targets, ep)
	}
	if !attached {
		m.mu.Unlock()
		return ErrDetached
	}
	m.sent++
	m.delivered += uint64(len(targets))
	m.mu.Unlock()

	for _, ep := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ep.handler != nil {
			ep.handler(ctx, append([]byte(nil), frame...), from.id)
		}
	}
	m.logger.Debug("Radio frame", zap.Stringer("from", from.id), zap.Int("receivers", len(targets)), zap.Int("size", len(frame)))
	return nil
}

// Endpoint is one radio on the medium.
type Endpoint struct {
	id      profile.PeerID
	medium  *Medium
	handler Handler
}

func (ep *Endpoint) ID() profile.PeerID { return ep.id }

// Broadcast sends frame to every endpoint in range.
func (ep *Endpoint) Broadcast(ctx context.Context, frame []byte) error {
	return ep.medium.broadcast(ctx, ep, frame)
}

// Leave detaches the endpoint. Later broadcasts fail with ErrDetached.
func (ep *Endpoint) Leave() {
	ep.medium.leave(ep)
}
