package encounter

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/baderanaas/GoPass/pkg/profile"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func peer(b byte) profile.PeerID { return profile.PeerID{b, 0, 0, 0, 0, 0, 0, b} }

func newTestStore(t *testing.T, maxPeers int, ttl time.Duration) *Store {
	s, err := New(maxPeers, ttl, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestNewRejectsInvalidLimits(t *testing.T) {
	_, err := New(0, time.Hour, nil)
	require.ErrorIs(t, err, ErrInvalidLimits)
	_, err = New(-1, time.Hour, nil)
	require.ErrorIs(t, err, ErrInvalidLimits)
	_, err = New(10, 0, nil)
	require.ErrorIs(t, err, ErrInvalidLimits)
}

func TestUpsertInsertThenRefresh(t *testing.T) {
	s := newTestStore(t, 20, 24*time.Hour)
	p1 := peer(1)

	out := s.Upsert(p1, at(0))
	require.Equal(t, Inserted, out.Result)
	require.Nil(t, out.Evicted)

	out = s.Upsert(p1, at(500))
	require.Equal(t, Refreshed, out.Result)

	rec, ok := s.Get(p1)
	require.True(t, ok)
	require.Equal(t, 2, rec.Interactions)
	require.Equal(t, at(0), rec.FirstSeen)
	require.Equal(t, at(500), rec.LastSeen)
	require.False(t, rec.Exchanged())
	require.Equal(t, 1, s.Len())
}

func TestUpsertRejectsStaleObservation(t *testing.T) {
	s := newTestStore(t, 20, 24*time.Hour)
	p1 := peer(1)

	s.Upsert(p1, at(1000))
	before, _ := s.Get(p1)

	out := s.Upsert(p1, at(999))
	require.Equal(t, Stale, out.Result)

	after, _ := s.Get(p1)
	require.Equal(t, before, after, "a stale observation must leave the record unchanged")

	// Equal timestamps are not stale.
	out = s.Upsert(p1, at(1000))
	require.Equal(t, Refreshed, out.Result)
}

func TestCapacityEvictsOldestLastSeen(t *testing.T) {
	s := newTestStore(t, 2, 24*time.Hour)
	a, b, c := peer('A'), peer('B'), peer('C')

	s.Upsert(a, at(0))
	s.Upsert(b, at(100))

	out := s.Upsert(c, at(200))
	require.Equal(t, Inserted, out.Result)
	require.NotNil(t, out.Evicted)
	require.Equal(t, a, out.Evicted.PeerID)

	_, ok := s.Get(a)
	require.False(t, ok)
	_, ok = s.Get(b)
	require.True(t, ok)
	_, ok = s.Get(c)
	require.True(t, ok)
	require.Equal(t, 2, s.Len())
}

func TestEvictionFollowsRefresh(t *testing.T) {
	s := newTestStore(t, 2, 24*time.Hour)
	a, b, c := peer('A'), peer('B'), peer('C')

	s.Upsert(a, at(0))
	s.Upsert(b, at(100))
	s.Upsert(a, at(150)) // A is now the most recently seen

	out := s.Upsert(c, at(200))
	require.NotNil(t, out.Evicted)
	require.Equal(t, b, out.Evicted.PeerID)
}

func TestEvictionTieBreak(t *testing.T) {
	s := newTestStore(t, 2, 24*time.Hour)
	s.Upsert(peer(9), at(0))
	s.Upsert(peer(3), at(0))

	out := s.Upsert(peer(5), at(10))
	require.NotNil(t, out.Evicted)
	require.Equal(t, peer(3), out.Evicted.PeerID, "equal timestamps fall back to the smallest id")
}

func TestEvictIfFull(t *testing.T) {
	s := newTestStore(t, 2, 24*time.Hour)
	s.Upsert(peer(1), at(0))

	_, ok := s.EvictIfFull()
	require.False(t, ok, "nothing is evicted below capacity")

	s.Upsert(peer(2), at(5))
	victim, ok := s.EvictIfFull()
	require.True(t, ok)
	require.Equal(t, peer(1), victim.PeerID)
	require.Equal(t, 1, s.Len())
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	const maxPeers = 5
	s := newTestStore(t, maxPeers, 24*time.Hour)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 500; i++ {
		id := peer(byte(rng.Intn(40)))
		before := s.Len()
		_, existed := s.Get(id)

		out := s.Upsert(id, at(i))
		require.LessOrEqual(t, s.Len(), maxPeers)

		if !existed {
			require.Equal(t, Inserted, out.Result)
			if before == maxPeers {
				require.NotNil(t, out.Evicted, "an insert at capacity evicts exactly one record")
				require.Equal(t, maxPeers, s.Len())
			} else {
				require.Nil(t, out.Evicted)
			}
		}
	}
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(t, 20, time.Second)
	d, e, f := peer('D'), peer('E'), peer('F')

	s.Upsert(d, at(0))
	s.Upsert(e, at(400))
	s.Upsert(f, at(1200))

	removed := s.PurgeExpired(at(1500))
	require.Equal(t, []profile.PeerID{d, e}, removed)

	_, ok := s.Get(d)
	require.False(t, ok)
	_, ok = s.Get(f)
	require.True(t, ok)

	// Exactly TTL old is kept; strictly older is removed.
	require.Empty(t, s.PurgeExpired(at(2200)))
	require.Equal(t, []profile.PeerID{f}, s.PurgeExpired(at(2201)))
	require.Equal(t, 0, s.Len())
}

func TestAttachExchange(t *testing.T) {
	s := newTestStore(t, 20, time.Hour)
	e := peer('E')

	err := s.AttachExchange(e, profile.Profile{Username: "eve"}, nil, at(10))
	require.ErrorIs(t, err, ErrNotFound)

	s.Upsert(e, at(0))
	err = s.AttachExchange(e, profile.Profile{Username: "eve", Status: "hi"}, profile.GameData{7}, at(20))
	require.NoError(t, err)

	rec, ok := s.Get(e)
	require.True(t, ok)
	require.True(t, rec.Exchanged())
	require.Equal(t, "eve", rec.Profile.Username)
	require.Equal(t, e, rec.Profile.PeerID, "the record id wins over whatever the profile claims")
	require.Equal(t, profile.GameData{7}, rec.GameData)
	require.Equal(t, 2, rec.Interactions)
	require.Equal(t, at(20), rec.LastSeen)

	// An older exchange timestamp does not move last-seen backwards.
	require.NoError(t, s.AttachExchange(e, profile.Profile{}, nil, at(5)))
	rec, _ = s.Get(e)
	require.Equal(t, at(20), rec.LastSeen)
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := newTestStore(t, 20, time.Hour)
	s.Upsert(peer(1), at(0))
	s.Upsert(peer(2), at(10))
	require.NoError(t, s.AttachExchange(peer(2), profile.Profile{Username: "two"}, profile.GameData{1}, at(10)))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, peer(2), snap[0].PeerID, "most recently seen first")

	// Mutating the store after the snapshot does not change it.
	s.Upsert(peer(3), at(20))
	s.Remove(peer(1))
	require.NoError(t, s.AttachExchange(peer(2), profile.Profile{Username: "changed"}, nil, at(30)))
	require.Len(t, snap, 2)
	require.Equal(t, "two", snap[0].Profile.Username)
	require.Equal(t, profile.GameData{1}, snap[0].GameData)

	// Mutating the snapshot does not change the store.
	snap[0].Profile.Username = "mutated"
	rec, _ := s.Get(peer(2))
	require.Equal(t, "changed", rec.Profile.Username)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t, 20, time.Hour)
	s.Upsert(peer(1), at(0))
	require.True(t, s.Remove(peer(1)))
	require.False(t, s.Remove(peer(1)))
}

func TestConcurrentUpsertsClassifyOnce(t *testing.T) {
	s := newTestStore(t, 64, time.Hour)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted = map[profile.PeerID]int{}
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 32; i++ {
				id := peer(byte(i))
				if s.Upsert(id, at(w*100+i)).Result == Inserted {
					mu.Lock()
					inserted[id]++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, inserted, 32)
	for id, n := range inserted {
		require.Equal(t, 1, n, fmt.Sprintf("peer %s classified as new %d times", id, n))
	}
}
