package libp2p

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"go.uber.org/zap"
)

// mdnsNotifee connects to every GoPass node found on the local network.
// Being connected is what makes two devices "in range".
type mdnsNotifee struct {
	node *Node
}

// HandlePeerFound implements mdns.Notifee.
func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	n := m.node
	if pi.ID == n.host.ID() {
		return
	}
	if n.host.Network().Connectedness(pi.ID) == network.Connected {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		defer cancel()
		if err := n.host.Connect(ctx, pi); err != nil {
			n.logger.Debug("Failed to connect to mDNS peer",
				zap.String("peer", shortID(pi.ID)),
				zap.Error(err))
			return
		}
		n.logger.Info("Connected to nearby peer", zap.String("peer", shortID(pi.ID)))
	}()
}

func (n *Node) startMDNS() {
	service := mdns.NewMdnsService(n.host, MDNSServiceName, &mdnsNotifee{node: n})
	if err := service.Start(); err != nil {
		n.logger.Warn("Failed to start mDNS discovery", zap.Error(err))
		return
	}
	n.mdns = service
	n.logger.Info("mDNS discovery started", zap.String("service", MDNSServiceName))
}
