package libp2p

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/zeebo/blake3"

	"github.com/baderanaas/GoPass/pkg/profile"
)

// DerivePeerID maps a libp2p host ID onto the 8-byte StreetPass identity
// carried in frames.
func DerivePeerID(id peer.ID) profile.PeerID {
	sum := blake3.Sum256([]byte(id))
	var pid profile.PeerID
	copy(pid[:], sum[:])
	return pid
}

// shortID trims a host ID for display.
func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 12 {
		return s[len(s)-12:]
	}
	return s
}
