package streetpass

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/beacon"
	"github.com/baderanaas/GoPass/pkg/encounter"
	"github.com/baderanaas/GoPass/pkg/notify"
	"github.com/baderanaas/GoPass/pkg/profile"
)

// Disposition says what HandleFrame did with a frame.
type Disposition int

const (
	Accepted Disposition = iota
	DroppedMalformed
	DroppedLoopback
	DroppedBlocked
	DroppedDuplicate
	// Ignored frames decoded fine but were not for us or did not match a session.
	Ignored
)

func (d Disposition) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case DroppedMalformed:
		return "malformed"
	case DroppedLoopback:
		return "loopback"
	case DroppedBlocked:
		return "blocked"
	case DroppedDuplicate:
		return "duplicate"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// HandleFrame processes one inbound frame. hint is the link layer's idea of
// who sent it, the zero PeerID if it has none. Every failure is local to the
// frame: HandleFrame never returns an error.
func (e *Engine) HandleFrame(ctx context.Context, data []byte, hint profile.PeerID) Disposition {
	e.stats.framesReceived.Add(1)

	msg, err := beacon.Decode(data)
	if err != nil {
		e.stats.decodeErrors.Add(1)
		e.logger.Debug("Dropped malformed frame", zap.Int("size", len(data)), zap.Error(err))
		return DroppedMalformed
	}

	sender := msg.From()
	if sender == e.ID() {
		e.stats.loopbackDrops.Add(1)
		return DroppedLoopback
	}
	if !hint.IsZero() && hint != sender {
		e.logger.Debug("Frame sender differs from link sender",
			zap.Stringer("sender", sender), zap.Stringer("link", hint))
	}
	if e.blocklist.Contains(sender) {
		e.stats.blockedDrops.Add(1)
		return DroppedBlocked
	}
	if e.seen(frameKey{sender: sender, typ: msg.Kind(), seq: msg.Sequence()}) {
		e.stats.retransmissions.Add(1)
		return DroppedDuplicate
	}

	switch m := msg.(type) {
	case beacon.Beacon:
		return e.handleBeacon(ctx, m)
	case beacon.ProfileRequest:
		return e.handleRequest(ctx, m)
	case beacon.ProfileResponse:
		return e.handleResponse(m)
	}
	return Ignored
}

// seen records key and reports whether it was already recorded.
func (e *Engine) seen(key frameKey) bool {
	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	if e.dedup.Contains(key) {
		return true
	}
	e.dedup.Add(key, struct{}{})
	return false
}

func (e *Engine) handleBeacon(ctx context.Context, b beacon.Beacon) Disposition {
	now := e.clock.Now()
	mark := e.sessions.mark()
	out := e.store.Upsert(b.Sender, now)

	if out.Evicted != nil {
		e.stats.evictions.Add(1)
		e.sessions.cancelBefore(out.Evicted.PeerID, mark)
		e.emit(notify.Forgotten, out.Evicted.PeerID, notify.ReasonEvicted, now)
	}

	switch out.Result {
	case encounter.Stale:
		e.stats.staleUpdates.Add(1)
	case encounter.Inserted:
		e.logger.Debug("First contact",
			zap.Stringer("peer", b.Sender), zap.String("name", b.Name), zap.Uint8("flags", uint8(b.Flags)))
		e.emit(notify.NewEncounter, b.Sender, notify.ReasonNone, now)
		if e.opts.AutoExchange && b.Flags.Has(beacon.FlagExchange) {
			if _, started := e.sessions.Initiate(ctx, b.Sender); started {
				e.stats.exchangesStarted.Add(1)
			}
		}
	}
	return Accepted
}

// handleRequest answers every request addressed to us, whether or not we
// know the requester or have already answered it.
func (e *Engine) handleRequest(ctx context.Context, r beacon.ProfileRequest) Disposition {
	if r.Target != e.ID() {
		return Ignored
	}

	p, g, _ := e.self.Snapshot()
	resp := beacon.ProfileResponse{
		Header:   beacon.Header{Sender: p.PeerID, Seq: e.nextSeq()},
		Target:   r.Sender,
		Session:  r.Session,
		Profile:  p,
		GameData: g,
	}
	frame, err := beacon.Encode(resp)
	if err != nil {
		e.logger.Error("Failed to encode profile response", zap.Error(err))
		return Ignored
	}
	if err := e.transport.Broadcast(ctx, frame); err != nil {
		e.logger.Debug("Failed to send profile response", zap.Stringer("peer", r.Sender), zap.Error(err))
		return Accepted
	}
	e.stats.requestsServed.Add(1)
	return Accepted
}

func (e *Engine) handleResponse(r beacon.ProfileResponse) Disposition {
	if r.Target != e.ID() {
		return Ignored
	}
	if !e.sessions.Resolve(r.Sender, r.Session) {
		e.logger.Debug("Ignored unsolicited profile response",
			zap.Stringer("peer", r.Sender), zap.Stringer("session", r.Session))
		return Ignored
	}

	now := e.clock.Now()
	err := e.store.AttachExchange(r.Sender, r.Profile, r.GameData, now)
	if errors.Is(err, encounter.ErrNotFound) {
		e.stats.exchangesNotFound.Add(1)
		e.sessions.Cancel(r.Sender)
		e.logger.Debug("Exchange completed for a forgotten peer", zap.Stringer("peer", r.Sender))
		return Ignored
	}
	if err != nil {
		e.logger.Warn("Failed to attach exchange", zap.Stringer("peer", r.Sender), zap.Error(err))
		return Ignored
	}

	e.stats.exchangesCompleted.Add(1)
	e.emit(notify.ExchangeComplete, r.Sender, notify.ReasonNone, now)
	return Accepted
}

func (e *Engine) sendRequest(ctx context.Context, target profile.PeerID, id uuid.UUID) error {
	frame, err := beacon.Encode(beacon.ProfileRequest{
		Header:  beacon.Header{Sender: e.ID(), Seq: e.nextSeq()},
		Target:  target,
		Session: id,
	})
	if err != nil {
		return err
	}
	return e.transport.Broadcast(ctx, frame)
}

func (e *Engine) exchangeTimedOut(peer profile.PeerID) {
	e.stats.exchangesTimedOut.Add(1)
	e.logger.Debug("Profile exchange timed out", zap.Stringer("peer", peer))
}
