package libp2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/logging"
	"github.com/baderanaas/GoPass/pkg/profile"
)

// ErrUnknownNeighbour is returned for a PeerID no frame has arrived from.
var ErrUnknownNeighbour = errors.New("no connection carries this peer")

// NodeOptions configures a Node.
type NodeOptions struct {
	Port           int    // TCP port, QUIC listens on Port+1. 0 picks free ports
	DataDir        string // Empty means ~/.gopass
	MaxConnections int
	MDNS           bool // Discover peers on the local network
	Logger         *zap.Logger
}

// FrameHandler receives every beacon-topic frame sent by a directly
// connected peer.
type FrameHandler func(ctx context.Context, frame []byte, from profile.PeerID)

// Node is the libp2p side of a device: a host, the beacon topic and
// proximity discovery.
type Node struct {
	host    host.Host
	ctx     context.Context
	cancel  context.CancelFunc
	pubsub  *pubsub.PubSub
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	mdns    mdns.Service
	dataDir string
	peerID  profile.PeerID
	logger  *zap.Logger

	listening sync.Once

	// Host each neighbour's frames arrived from
	neighbours    map[profile.PeerID]peer.ID
	neighboursMux sync.RWMutex

	// Peers dialed by address, redialed when the connection drops
	manualPeers    []peer.AddrInfo
	manualPeersMux sync.RWMutex
}

// NewNode creates the host, joins the beacon topic and, if enabled, starts
// mDNS discovery.
func NewNode(opts NodeOptions) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(logging.ComponentLibP2P)

	dataDir, err := getDataDir(opts.DataDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 64
	}
	cm, err := connmgr.NewConnManager(maxConns/2, maxConns, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		cancel()
		return nil, err
	}

	privKey, err := LoadIdentity(dataDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load or generate identity: %w", err)
	}

	quicPort := 0
	if opts.Port != 0 {
		quicPort = opts.Port + 1
	}
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", opts.Port),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", quicPort),
		),
		libp2p.Identity(privKey),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	// Flood publishing reaches every subscribed neighbour without waiting for
	// the mesh to form.
	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithFloodPublish(true))
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	node := &Node{
		host:    h,
		ctx:     ctx,
		cancel:  cancel,
		pubsub:  ps,
		dataDir: dataDir,
		peerID:  DerivePeerID(h.ID()),
		logger:  logger,

		neighbours: make(map[profile.PeerID]peer.ID),
	}

	if err := node.joinBeaconTopic(); err != nil {
		node.Close()
		return nil, err
	}

	if opts.MDNS {
		node.startMDNS()
	}

	logger.Info("Node started", zap.String("host_id", h.ID().String()), zap.Stringer("peer_id", node.peerID))
	for _, addr := range h.Addrs() {
		logger.Info("Listening", zap.String("addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID())))
	}

	go node.maintainNetwork()

	return node, nil
}

// PeerID returns the StreetPass identity derived from the host key.
func (n *Node) PeerID() profile.PeerID { return n.peerID }

// DataDir returns the directory holding the identity and node state.
func (n *Node) DataDir() string { return n.dataDir }

// Broadcast publishes frame on the beacon topic. Only directly connected
// peers accept it.
func (n *Node) Broadcast(ctx context.Context, frame []byte) error {
	return n.topic.Publish(ctx, frame)
}

// Listen starts delivering inbound frames to handler. It may be called once.
func (n *Node) Listen(handler FrameHandler) error {
	started := false
	n.listening.Do(func() {
		started = true
		go n.readFrames(handler)
	})
	if !started {
		return errors.New("node is already listening")
	}
	return nil
}

// Close shuts down the node.
func (n *Node) Close() error {
	n.cancel()
	if n.mdns != nil {
		if err := n.mdns.Close(); err != nil {
			n.logger.Debug("Error closing mDNS", zap.Error(err))
		}
	}
	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.topic != nil {
		if err := n.topic.Close(); err != nil {
			n.logger.Debug("Error closing beacon topic", zap.Error(err))
		}
	}
	return n.host.Close()
}

// DisconnectFromPeer closes the connection to the neighbour whose frames
// carry id and stops redialing it. It fails with ErrUnknownNeighbour if no
// frame from id arrived.
func (n *Node) DisconnectFromPeer(id profile.PeerID) error {
	n.neighboursMux.Lock()
	hostID, ok := n.neighbours[id]
	delete(n.neighbours, id)
	n.neighboursMux.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNeighbour, id)
	}

	n.manualPeersMux.Lock()
	kept := n.manualPeers[:0]
	for _, p := range n.manualPeers {
		if p.ID != hostID {
			kept = append(kept, p)
		}
	}
	n.manualPeers = kept
	n.manualPeersMux.Unlock()

	n.logger.Info("Disconnected from peer", zap.Stringer("peer_id", id), zap.String("host", shortID(hostID)))
	return n.host.Network().ClosePeer(hostID)
}

func (n *Node) rememberNeighbour(id profile.PeerID, hostID peer.ID) {
	n.neighboursMux.Lock()
	n.neighbours[id] = hostID
	n.neighboursMux.Unlock()
}
