package libp2p

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const maxManualPeers = 20

// maintainNetwork redials manually added peers that dropped off.
func (n *Node) maintainNetwork() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.ensureConnectivity()
		}
	}
}

// ensureConnectivity reconnects to every manual peer that is not connected.
func (n *Node) ensureConnectivity() {
	n.manualPeersMux.RLock()
	peers := append([]peer.AddrInfo(nil), n.manualPeers...)
	n.manualPeersMux.RUnlock()

	for _, p := range peers {
		if n.host.Network().Connectedness(p.ID) == network.Connected {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		if err := n.host.Connect(ctx, p); err != nil {
			n.logger.Debug("Redial failed", zap.String("peer", shortID(p.ID)), zap.Error(err))
		} else {
			n.logger.Info("Reconnected to peer", zap.String("peer", shortID(p.ID)))
		}
		cancel()
	}
}

// ConnectToPeer dials a peer given its multiaddress string, e.g.
// /ip4/192.168.1.7/tcp/4001/p2p/12D3Koo...
func (n *Node) ConnectToPeer(addrStr string) error {
	addr, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		return err
	}
	peerInfo, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *peerInfo); err != nil {
		return err
	}

	n.manualPeersMux.Lock()
	n.manualPeers = append(n.manualPeers, *peerInfo)
	if len(n.manualPeers) > maxManualPeers {
		n.manualPeers = n.manualPeers[1:]
	}
	n.manualPeersMux.Unlock()
	return nil
}

// ConnectedPeers returns the number of open peer connections.
func (n *Node) ConnectedPeers() int {
	return len(n.host.Network().Peers())
}
