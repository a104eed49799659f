package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/streetpass"
)

const namespace = "gopass"

// Source provides the counters to export. *streetpass.Engine implements it.
type Source interface {
	Stats() streetpass.Stats
}

type counterDesc struct {
	name, help string
	value      func(streetpass.Stats) uint64
}

var counterDescs = []counterDesc{
	{"frames_received_total", "Frames delivered by the transport.", func(s streetpass.Stats) uint64 { return s.FramesReceived }},
	{"beacons_sent_total", "Beacons broadcast.", func(s streetpass.Stats) uint64 { return s.BeaconsSent }},
	{"decode_errors_total", "Frames dropped as malformed.", func(s streetpass.Stats) uint64 { return s.DecodeErrors }},
	{"loopback_drops_total", "Own frames heard back and dropped.", func(s streetpass.Stats) uint64 { return s.LoopbackDrops }},
	{"blocked_drops_total", "Frames from blocked peers.", func(s streetpass.Stats) uint64 { return s.BlockedDrops }},
	{"retransmissions_total", "Duplicate frames dropped.", func(s streetpass.Stats) uint64 { return s.Retransmissions }},
	{"stale_updates_total", "Beacons older than the stored last-seen time.", func(s streetpass.Stats) uint64 { return s.StaleUpdates }},
	{"exchanges_started_total", "Profile exchanges started.", func(s streetpass.Stats) uint64 { return s.ExchangesStarted }},
	{"exchanges_completed_total", "Profile exchanges completed.", func(s streetpass.Stats) uint64 { return s.ExchangesCompleted }},
	{"exchanges_timed_out_total", "Profile exchanges that got no response.", func(s streetpass.Stats) uint64 { return s.ExchangesTimedOut }},
	{"exchanges_not_found_total", "Responses for peers forgotten mid-exchange.", func(s streetpass.Stats) uint64 { return s.ExchangesNotFound }},
	{"requests_served_total", "Profile requests answered.", func(s streetpass.Stats) uint64 { return s.RequestsServed }},
	{"evictions_total", "Encounters evicted for capacity.", func(s streetpass.Stats) uint64 { return s.Evictions }},
	{"expirations_total", "Encounters expired by TTL.", func(s streetpass.Stats) uint64 { return s.Expirations }},
}

// Register adds one collector per counter, plus the encounter and pending
// exchange gauges, to reg.
func Register(reg prometheus.Registerer, src Source) error {
	for _, d := range counterDescs {
		value := d.value
		c := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      d.name,
			Help:      d.help,
		}, func() float64 { return float64(value(src.Stats())) })
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "encounters",
			Help:      "Encounter records currently held.",
		}, func() float64 { return float64(src.Stats().Encounters) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_exchanges",
			Help:      "Profile exchanges awaiting a response.",
		}, func() float64 { return float64(src.Stats().PendingExchanges) }),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Serve exposes reg on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
