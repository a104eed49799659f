package streetpass

import "sync/atomic"

// Stats is a point-in-time copy of the engine's diagnostic counters.
type Stats struct {
	FramesReceived     uint64 `json:"frames_received"`
	BeaconsSent        uint64 `json:"beacons_sent"`
	DecodeErrors       uint64 `json:"decode_errors"`
	LoopbackDrops      uint64 `json:"loopback_drops"`
	BlockedDrops       uint64 `json:"blocked_drops"`
	Retransmissions    uint64 `json:"retransmissions"`
	StaleUpdates       uint64 `json:"stale_updates"`
	ExchangesStarted   uint64 `json:"exchanges_started"`
	ExchangesCompleted uint64 `json:"exchanges_completed"`
	ExchangesTimedOut  uint64 `json:"exchanges_timed_out"`
	ExchangesNotFound  uint64 `json:"exchanges_not_found"`
	RequestsServed     uint64 `json:"requests_served"`
	Evictions          uint64 `json:"evictions"`
	Expirations        uint64 `json:"expirations"`

	Encounters       int `json:"encounters"`
	PendingExchanges int `json:"pending_exchanges"`
}

type counters struct {
	framesReceived     atomic.Uint64
	beaconsSent        atomic.Uint64
	decodeErrors       atomic.Uint64
	loopbackDrops      atomic.Uint64
	blockedDrops       atomic.Uint64
	retransmissions    atomic.Uint64
	staleUpdates       atomic.Uint64
	exchangesStarted   atomic.Uint64
	exchangesCompleted atomic.Uint64
	exchangesTimedOut  atomic.Uint64
	exchangesNotFound  atomic.Uint64
	requestsServed     atomic.Uint64
	evictions          atomic.Uint64
	expirations        atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesReceived:     c.framesReceived.Load(),
		BeaconsSent:        c.beaconsSent.Load(),
		DecodeErrors:       c.decodeErrors.Load(),
		LoopbackDrops:      c.loopbackDrops.Load(),
		BlockedDrops:       c.blockedDrops.Load(),
		Retransmissions:    c.retransmissions.Load(),
		StaleUpdates:       c.staleUpdates.Load(),
		ExchangesStarted:   c.exchangesStarted.Load(),
		ExchangesCompleted: c.exchangesCompleted.Load(),
		ExchangesTimedOut:  c.exchangesTimedOut.Load(),
		ExchangesNotFound:  c.exchangesNotFound.Load(),
		RequestsServed:     c.requestsServed.Load(),
		Evictions:          c.evictions.Load(),
		Expirations:        c.expirations.Load(),
	}
}
