package notify

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/profile"
)

// Kind is the type of an encounter event.
type Kind int

const (
	NewEncounter Kind = iota + 1
	ExchangeComplete
	Forgotten
)

var kindNames = map[Kind]string{
	NewEncounter:     "new_encounter",
	ExchangeComplete: "exchange_complete",
	Forgotten:        "forgotten",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Reason explains why a peer was forgotten.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonTTL means the peer was not seen for longer than the TTL.
	ReasonTTL
	// ReasonEvicted means the record made room for a newer peer.
	ReasonEvicted
	// ReasonBlocked means the owner blocked the peer.
	ReasonBlocked
)

var reasonNames = map[Reason]string{
	ReasonNone:    "",
	ReasonTTL:     "ttl",
	ReasonEvicted: "evicted",
	ReasonBlocked: "blocked",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Reason) UnmarshalText(text []byte) error {
	for reason, name := range reasonNames {
		if name == string(text) {
			*r = reason
			return nil
		}
	}
	return fmt.Errorf("unknown forget reason %q", text)
}

// Event is delivered to a Sink for every encounter state change.
type Event struct {
	Kind   Kind           `json:"kind"`
	PeerID profile.PeerID `json:"peer_id"`
	Reason Reason         `json:"reason,omitempty"`
	At     time.Time      `json:"at"`
}

func (e Event) String() string {
	if e.Kind == Forgotten {
		return fmt.Sprintf("%s(%s, %s)", e.Kind, e.PeerID.Short(), e.Reason)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.PeerID.Short())
}

// Sink receives encounter events. Notify is called from the engine's
// goroutines, never while the engine holds a lock; it should return quickly.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Notify(e Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(e)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// LogSink writes events to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

func (l LogSink) Notify(e Event) {
	fields := []zap.Field{zap.Stringer("peer", e.PeerID), zap.Time("at", e.At)}
	switch e.Kind {
	case NewEncounter:
		l.Logger.Info("New encounter", fields...)
	case ExchangeComplete:
		l.Logger.Info("Profile exchange complete", fields...)
	case Forgotten:
		l.Logger.Info("Forgot peer", append(fields, zap.Stringer("reason", e.Reason))...)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events match kind and peer.
func (r *Recorder) Count(kind Kind, peer profile.PeerID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind && e.PeerID == peer {
			n++
		}
	}
	return n
}
