package libp2p

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// joinBeaconTopic registers the single-hop validator and subscribes to the
// beacon topic.
func (n *Node) joinBeaconTopic() error {
	if err := n.pubsub.RegisterTopicValidator(BeaconTopic, n.validateFrame); err != nil {
		return fmt.Errorf("failed to register validator: %w", err)
	}

	topic, err := n.pubsub.Join(BeaconTopic)
	if err != nil {
		return fmt.Errorf("failed to join topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	n.topic = topic
	n.sub = sub
	return nil
}

// validateFrame accepts only messages received from their author. A relayed
// message comes from a device that is out of range and is ignored; it is not
// forwarded further either.
func (n *Node) validateFrame(_ context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	if from == n.host.ID() {
		return pubsub.ValidationAccept
	}
	if msg.GetFrom() != from {
		return pubsub.ValidationIgnore
	}
	return pubsub.ValidationAccept
}

// readFrames hands each frame from a neighbour to handler until the node
// closes.
func (n *Node) readFrames(handler FrameHandler) {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			if n.ctx.Err() == nil {
				n.logger.Warn("Beacon subscription ended", zap.Error(err))
			}
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		from := DerivePeerID(msg.ReceivedFrom)
		n.rememberNeighbour(from, msg.ReceivedFrom)
		handler(n.ctx, msg.Data, from)
	}
}
