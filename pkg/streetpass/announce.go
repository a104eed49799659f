package streetpass

import (
	"context"
	"fmt"

	"github.com/baderanaas/GoPass/pkg/beacon"
)

func (e *Engine) nextSeq() uint32 { return e.seq.Add(1) }

// Announce broadcasts one beacon built from the current local profile.
func (e *Engine) Announce(ctx context.Context) error {
	p, g, digest := e.self.Snapshot()
	frame, err := beacon.Encode(beacon.NewBeacon(e.nextSeq(), p, g, digest))
	if err != nil {
		return fmt.Errorf("encode beacon: %w", err)
	}
	if err := e.transport.Broadcast(ctx, frame); err != nil {
		return err
	}
	e.stats.beaconsSent.Add(1)
	return nil
}
