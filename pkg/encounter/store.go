package encounter

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/profile"
)

var (
	// ErrNotFound is returned when an operation targets a peer without a record.
	ErrNotFound = errors.New("encounter not found")
	// ErrInvalidLimits is returned by New for a zero capacity or TTL.
	ErrInvalidLimits = errors.New("invalid encounter store limits")
)

// Record is everything remembered about one peer.
type Record struct {
	PeerID    profile.PeerID
	FirstSeen time.Time
	LastSeen  time.Time
	// Profile is nil until an exchange with the peer completes.
	Profile *profile.Profile
	// GameData is nil unless the exchange delivered some.
	GameData     profile.GameData
	Interactions int
}

// Exchanged reports whether the full profile has been received.
func (r Record) Exchanged() bool { return r.Profile != nil }

func (r Record) clone() Record {
	if r.Profile != nil {
		p := *r.Profile
		r.Profile = &p
	}
	r.GameData = r.GameData.Clone()
	return r
}

// Result says what Upsert did.
type Result int

const (
	// Inserted means the peer had no record: this is a first contact.
	Inserted Result = iota
	// Refreshed means an existing record was touched.
	Refreshed
	// Stale means the observation was older than the stored last-seen time
	// and was ignored.
	Stale
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Refreshed:
		return "refreshed"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Outcome is returned by Upsert.
type Outcome struct {
	Result Result
	// Evicted is the record removed to make room for an insert, if any.
	Evicted *Record
}

// Store is a capacity-bounded map of encounters. Every method is safe for
// concurrent use; each one is atomic with respect to the others.
type Store struct {
	mu       sync.Mutex
	records  map[profile.PeerID]*Record
	maxPeers int
	ttl      time.Duration
	logger   *zap.Logger
}

// New returns an empty store holding at most maxPeers records, each expiring
// ttl after it was last seen.
func New(maxPeers int, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	if maxPeers <= 0 {
		return nil, fmt.Errorf("%w: max peers must be positive, got %d", ErrInvalidLimits, maxPeers)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidLimits, ttl)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		records:  make(map[profile.PeerID]*Record, maxPeers),
		maxPeers: maxPeers,
		ttl:      ttl,
		logger:   logger,
	}, nil
}

// MaxPeers returns the capacity bound.
func (s *Store) MaxPeers() int { return s.maxPeers }

// TTL returns how long a record lives without being seen.
func (s *Store) TTL() time.Duration { return s.ttl }

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Upsert records that id was observed at observed. A new peer is inserted,
// evicting the least recently seen record first when the store is full. A
// known peer has its last-seen time advanced and its interaction count
// incremented, unless observed is older than what is stored, in which case
// nothing changes.
func (s *Store) Upsert(id profile.PeerID, observed time.Time) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok {
		if observed.Before(rec.LastSeen) {
			s.logger.Debug("Ignoring stale observation",
				zap.Stringer("peer", id),
				zap.Time("observed", observed),
				zap.Time("last_seen", rec.LastSeen))
			return Outcome{Result: Stale}
		}
		rec.LastSeen = observed
		rec.Interactions++
		return Outcome{Result: Refreshed}
	}

	out := Outcome{Result: Inserted}
	if victim, ok := s.evictLocked(); ok {
		out.Evicted = &victim
	}
	s.records[id] = &Record{
		PeerID:       id,
		FirstSeen:    observed,
		LastSeen:     observed,
		Interactions: 1,
	}
	return out
}

// AttachExchange stores the profile and game data received from id and
// counts the exchange as an interaction. It fails with ErrNotFound when the
// record expired or was evicted while the exchange was in flight.
func (s *Store) AttachExchange(id profile.PeerID, p profile.Profile, g profile.GameData, observed time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.PeerID = id
	rec.Profile = &p
	rec.GameData = g.Clone()
	rec.Interactions++
	if observed.After(rec.LastSeen) {
		rec.LastSeen = observed
	}
	return nil
}

// EvictIfFull removes the least recently seen record when the store is at
// capacity, making room for one insert.
func (s *Store) EvictIfFull() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked()
}

// evictLocked picks the record with the oldest LastSeen. Ties go to the
// oldest FirstSeen, then to the smallest PeerID, so the choice does not
// depend on map iteration order.
func (s *Store) evictLocked() (Record, bool) {
	if len(s.records) < s.maxPeers {
		return Record{}, false
	}
	var victim *Record
	for _, rec := range s.records {
		if victim == nil || older(rec, victim) {
			victim = rec
		}
	}
	delete(s.records, victim.PeerID)
	s.logger.Debug("Evicted encounter to make room",
		zap.Stringer("peer", victim.PeerID),
		zap.Time("last_seen", victim.LastSeen))
	return *victim, true
}

func older(a, b *Record) bool {
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.Before(b.LastSeen)
	}
	if !a.FirstSeen.Equal(b.FirstSeen) {
		return a.FirstSeen.Before(b.FirstSeen)
	}
	return bytes.Compare(a.PeerID[:], b.PeerID[:]) < 0
}

// PurgeExpired removes every record last seen more than the TTL before now
// and returns their ids, oldest first.
func (s *Store) PurgeExpired(now time.Time) []profile.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Record
	for _, rec := range s.records {
		if now.Sub(rec.LastSeen) > s.ttl {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return older(expired[i], expired[j]) })

	ids := make([]profile.PeerID, 0, len(expired))
	for _, rec := range expired {
		delete(s.records, rec.PeerID)
		ids = append(ids, rec.PeerID)
	}
	return ids
}

// Remove deletes the record for id, reporting whether it existed.
func (s *Store) Remove(id profile.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	return ok
}

// Get returns a copy of the record for id.
func (s *Store) Get(id profile.PeerID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Snapshot returns copies of all records, most recently seen first. Later
// mutations of the store do not affect the returned slice.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return older(&out[j], &out[i]) })
	return out
}
