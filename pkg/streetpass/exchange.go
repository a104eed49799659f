package streetpass

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/profile"
)

// State is the state of a profile exchange with one peer.
type State int

const (
	Idle State = iota
	AwaitingResponse
	Completed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// requestFunc sends one profile request for session id to target.
type requestFunc func(ctx context.Context, target profile.PeerID, id uuid.UUID) error

type session struct {
	id     uuid.UUID
	gen    uint64
	state  State
	sent   int
	timers []*clock.Timer
}

func (s *session) stop() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// Sessions tracks at most one exchange per peer. Finished sessions stay
// queryable until the peer's session is cancelled or replaced.
type Sessions struct {
	mu       sync.Mutex
	sessions map[profile.PeerID]*session
	gen      uint64 // bumped by every Initiate

	clock     clock.Clock
	timeout   time.Duration
	retries   int
	request   requestFunc
	onTimeout func(profile.PeerID)
	logger    *zap.Logger
}

func newSessions(clk clock.Clock, timeout time.Duration, retries int, request requestFunc, onTimeout func(profile.PeerID), logger *zap.Logger) *Sessions {
	return &Sessions{
		sessions:  make(map[profile.PeerID]*session),
		clock:     clk,
		timeout:   timeout,
		retries:   retries,
		request:   request,
		onTimeout: onTimeout,
		logger:    logger,
	}
}

// Initiate starts an exchange with peer and sends the first request. If an
// exchange with peer is already awaiting a response, its ID is returned
// and started is false.
func (m *Sessions) Initiate(ctx context.Context, peer profile.PeerID) (id uuid.UUID, started bool) {
	m.mu.Lock()
	if s, ok := m.sessions[peer]; ok {
		if s.state == AwaitingResponse {
			m.mu.Unlock()
			return s.id, false
		}
		s.stop()
	}

	sid := uuid.New()
	m.gen++
	s := &session{id: sid, gen: m.gen, state: AwaitingResponse}
	// Retries are spread evenly over the timeout.
	step := m.timeout / time.Duration(m.retries+1)
	for i := 1; i <= m.retries; i++ {
		s.timers = append(s.timers, m.clock.AfterFunc(time.Duration(i)*step, func() {
			m.resend(ctx, peer, sid)
		}))
	}
	s.timers = append(s.timers, m.clock.AfterFunc(m.timeout, func() {
		m.expire(peer, sid)
	}))
	m.sessions[peer] = s
	m.mu.Unlock()

	m.send(ctx, peer, sid)
	return sid, true
}

func (m *Sessions) send(ctx context.Context, peer profile.PeerID, id uuid.UUID) {
	m.mu.Lock()
	if s, ok := m.sessions[peer]; ok && s.id == id {
		s.sent++
	}
	m.mu.Unlock()

	if err := m.request(ctx, peer, id); err != nil {
		m.logger.Debug("Failed to send profile request",
			zap.Stringer("peer", peer), zap.Stringer("session", id), zap.Error(err))
	}
}

func (m *Sessions) resend(ctx context.Context, peer profile.PeerID, id uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[peer]
	awaiting := ok && s.id == id && s.state == AwaitingResponse
	m.mu.Unlock()
	if awaiting {
		m.send(ctx, peer, id)
	}
}

func (m *Sessions) expire(peer profile.PeerID, id uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[peer]
	if !ok || s.id != id || s.state != AwaitingResponse {
		m.mu.Unlock()
		return
	}
	s.state = TimedOut
	s.stop()
	m.mu.Unlock()

	if m.onTimeout != nil {
		m.onTimeout(peer)
	}
}

// Resolve moves the session matching peer and id to Completed. It reports
// false if no such session is awaiting a response.
func (m *Sessions) Resolve(peer profile.PeerID, id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[peer]
	if !ok || s.id != id || s.state != AwaitingResponse {
		return false
	}
	s.state = Completed
	s.stop()
	return true
}

// Cancel abandons any session with peer. It reports whether a session was
// still awaiting a response.
func (m *Sessions) Cancel(peer profile.PeerID) bool {
	return m.cancelBefore(peer, math.MaxUint64)
}

// mark returns a point in the session history. Sessions initiated after it
// survive cancelBefore(peer, mark).
func (m *Sessions) mark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// cancelBefore cancels the session with peer only if it was initiated at or
// before mark.
func (m *Sessions) cancelBefore(peer profile.PeerID, mark uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[peer]
	if !ok || s.gen > mark {
		return false
	}
	s.stop()
	delete(m.sessions, peer)
	return s.state == AwaitingResponse
}

// State returns the state of the exchange with peer, Idle if there is none.
func (m *Sessions) State(peer profile.PeerID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[peer]; ok {
		return s.state
	}
	return Idle
}

// Attempts returns how many requests the current session with peer has sent.
func (m *Sessions) Attempts(peer profile.PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[peer]; ok {
		return s.sent
	}
	return 0
}

// Pending returns the number of sessions awaiting a response.
func (m *Sessions) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.state == AwaitingResponse {
			n++
		}
	}
	return n
}

// Close stops every timer and forgets all sessions.
func (m *Sessions) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for peer, s := range m.sessions {
		s.stop()
		delete(m.sessions, peer)
	}
}
