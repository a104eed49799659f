package streetpass

import (
	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/notify"
	"github.com/baderanaas/GoPass/pkg/profile"
)

// Cleanup runs one purge pass and returns the peers it forgot.
func (e *Engine) Cleanup() []profile.PeerID {
	now := e.clock.Now()
	// A purged peer may beacon again before its session is cancelled; the
	// session that beacon starts must survive.
	mark := e.sessions.mark()
	removed := e.store.PurgeExpired(now)
	for _, id := range removed {
		e.sessions.cancelBefore(id, mark)
		e.stats.expirations.Add(1)
		e.emit(notify.Forgotten, id, notify.ReasonTTL, now)
	}
	if len(removed) > 0 {
		e.logger.Debug("Purged expired encounters", zap.Int("count", len(removed)), zap.Int("remaining", e.store.Len()))
	}
	return removed
}
