package radio

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/baderanaas/GoPass/pkg/beacon"
	"github.com/baderanaas/GoPass/pkg/profile"
)

type inbox struct {
	mu     sync.Mutex
	frames [][]byte
	from   []profile.PeerID
}

func (in *inbox) handle(_ context.Context, frame []byte, from profile.PeerID) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.frames = append(in.frames, frame)
	in.from = append(in.from, from)
}

func (in *inbox) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.frames)
}

var (
	idA = profile.PeerID{0xa}
	idB = profile.PeerID{0xb}
	idC = profile.PeerID{0xc}
)

func TestBroadcastReachesOthers(t *testing.T) {
	m := NewMedium()
	var a, b, c inbox
	epA := m.Join(idA, a.handle)
	m.Join(idB, b.handle)
	m.Join(idC, c.handle)

	require.NoError(t, epA.Broadcast(context.Background(), []byte("hello")))
	require.Equal(t, 0, a.len())
	require.Equal(t, 1, b.len())
	require.Equal(t, 1, c.len())
	require.Equal(t, idA, b.from[0])
	require.Equal(t, []byte("hello"), c.frames[0])

	sent, delivered, dropped := m.Counts()
	require.Equal(t, uint64(1), sent)
	require.Equal(t, uint64(2), delivered)
	require.Zero(t, dropped)
}

func TestReceiversGetTheirOwnCopy(t *testing.T) {
	m := NewMedium()
	var b inbox
	epA := m.Join(idA, nil)
	m.Join(idB, b.handle)

	frame := []byte("abc")
	require.NoError(t, epA.Broadcast(context.Background(), frame))
	frame[0] = 'x'
	require.Equal(t, []byte("abc"), b.frames[0])
}

func TestEcho(t *testing.T) {
	m := NewMedium(WithEcho())
	var a inbox
	epA := m.Join(idA, a.handle)
	require.NoError(t, epA.Broadcast(context.Background(), []byte("me")))
	require.Equal(t, 1, a.len())
	require.Equal(t, idA, a.from[0])
}

func TestDrop(t *testing.T) {
	// B is out of A's range.
	m := NewMedium(WithDrop(func(from, to profile.PeerID, _ []byte) bool {
		return from == idA && to == idB
	}))
	var b, c inbox
	epA := m.Join(idA, nil)
	m.Join(idB, b.handle)
	m.Join(idC, c.handle)

	require.NoError(t, epA.Broadcast(context.Background(), []byte("x")))
	require.Equal(t, 0, b.len())
	require.Equal(t, 1, c.len())

	m.SetDrop(nil)
	require.NoError(t, epA.Broadcast(context.Background(), []byte("y")))
	require.Equal(t, 1, b.len())

	_, _, dropped := m.Counts()
	require.Equal(t, uint64(1), dropped)
}

func TestFrameTooLarge(t *testing.T) {
	m := NewMedium()
	epA := m.Join(idA, nil)
	err := epA.Broadcast(context.Background(), make([]byte, beacon.MaxFrameSize+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestLeave(t *testing.T) {
	m := NewMedium()
	var b inbox
	epA := m.Join(idA, nil)
	epB := m.Join(idB, b.handle)

	epB.Leave()
	require.NoError(t, epA.Broadcast(context.Background(), []byte("x")))
	require.Equal(t, 0, b.len())
	require.ErrorIs(t, epB.Broadcast(context.Background(), []byte("x")), ErrDetached)
}
