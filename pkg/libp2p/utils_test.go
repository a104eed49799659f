package libp2p

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/test"
	"github.com/stretchr/testify/require"
)

func TestDerivePeerID(t *testing.T) {
	a := test.RandPeerIDFatal(t)
	b := test.RandPeerIDFatal(t)

	require.Equal(t, DerivePeerID(a), DerivePeerID(a), "derived ids should be deterministic")
	require.NotEqual(t, DerivePeerID(a), DerivePeerID(b))
	require.False(t, DerivePeerID(a).IsZero())
}

func TestShortID(t *testing.T) {
	id := test.RandPeerIDFatal(t)
	short := shortID(id)
	require.Len(t, short, 12)
	require.Contains(t, id.String(), short)
}
