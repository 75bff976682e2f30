// Package metrics exposes the counters an operator would scrape to
// watch a running instance: sessions accepted, relay attempts and
// their outcomes, and bounces produced.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sail",
		Name:      "sessions_total",
		Help:      "Inbound SMTP sessions accepted by the listener.",
	})

	RelayAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sail",
		Name:      "relay_attempts_total",
		Help:      "Outbound relay attempts, labelled by outcome.",
	}, []string{"outcome"})

	BouncesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sail",
		Name:      "bounces_total",
		Help:      "Bounce envelopes produced by failed relay attempts.",
	})

	LocalDeliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sail",
		Name:      "local_deliveries_total",
		Help:      "Messages handed to the local storage sink.",
	})
)

// Register adds every collector here to reg. Called once at startup;
// a nil reg registers against the default global registry.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{SessionsTotal, RelayAttemptsTotal, BouncesTotal, LocalDeliveriesTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
