package streetpass

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baderanaas/GoPass/pkg/beacon"
	"github.com/baderanaas/GoPass/pkg/notify"
)

func TestBlocklistPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "blocklist.json")
	bl, err := NewBlocklist(path)
	require.NoError(t, err)
	require.Empty(t, bl.List())

	t0 := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	require.True(t, bl.Add(BlockedPeer{PeerID: peerB, Name: "bob", Since: t0.Add(time.Minute)}))
	require.True(t, bl.Add(BlockedPeer{PeerID: peerA, Since: t0}))
	require.False(t, bl.Add(BlockedPeer{PeerID: peerA, Since: t0}))
	require.NoError(t, bl.Save())

	loaded, err := NewBlocklist(path)
	require.NoError(t, err)
	list := loaded.List()
	require.Len(t, list, 2)
	require.Equal(t, peerA, list[0].PeerID)
	require.Equal(t, "bob", list[1].Name)

	require.True(t, loaded.Remove(peerA))
	require.False(t, loaded.Remove(peerA))
	require.False(t, loaded.Contains(peerA))
	require.True(t, loaded.Contains(peerB))
}

func TestBlocklistInMemory(t *testing.T) {
	bl, err := NewBlocklist("")
	require.NoError(t, err)
	bl.Add(BlockedPeer{PeerID: peerC})
	require.NoError(t, bl.Save())
	require.True(t, bl.Contains(peerC))
}

func TestBlockAppliesWhenSaveFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "notadir")
	bl, err := NewBlocklist(filepath.Join(dir, "blocklist.json"))
	require.NoError(t, err)
	// A file where the directory should be makes every save fail.
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0600))

	h := newHarness(t, 20, 24*time.Hour, func(o *Options) { o.Blocklist = bl })
	h.deliver(t, beaconFrame(t, peerA, 1, beacon.FlagExchange))
	require.Equal(t, AwaitingResponse, h.engine.Sessions().State(peerA))

	require.Error(t, h.engine.Block(peerA))
	require.True(t, bl.Contains(peerA))
	require.Zero(t, h.engine.Encounters().Len())
	require.Equal(t, Idle, h.engine.Sessions().State(peerA))
	require.Equal(t, 1, h.events.Count(notify.Forgotten, peerA))
	require.Equal(t, DroppedBlocked, h.deliver(t, beaconFrame(t, peerA, 2, beacon.FlagExchange)))

	// Retrying still reports the failure and forgets nothing twice.
	require.Error(t, h.engine.Block(peerA))
	require.Equal(t, 1, h.events.Count(notify.Forgotten, peerA))
}
