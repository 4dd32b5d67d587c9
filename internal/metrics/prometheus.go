// Package metrics holds the Prometheus instruments exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_tokens_issued_total",
		Help: "Total number of access tokens issued, by client.",
	}, []string{"client_id"})

	RefreshRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authbridge_refresh_rotations_total",
		Help: "Total number of successful refresh token rotations.",
	})

	RefreshReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authbridge_refresh_replays_total",
		Help: "Total number of refresh token replays detected.",
	})

	UpstreamRefreshTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authbridge_upstream_refresh_total",
		Help: "Total number of transparent upstream token refreshes.",
	})

	UpstreamRefreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authbridge_upstream_refresh_failures_total",
		Help: "Total number of failed upstream token refreshes.",
	})

	AuthorizationsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authbridge_authorizations_started_total",
		Help: "Total number of authorization requests accepted.",
	})

	ClientsRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authbridge_clients_registered_total",
		Help: "Total number of dynamically registered clients.",
	})
)

// Register adds every instrument to the given registry. Call once at startup;
// the instruments themselves are usable before registration, unregistered
// updates are simply not exported.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register metrics.")
		return
	}
	collectors := []prometheus.Collector{
		TokensIssued,
		RefreshRotationsTotal,
		RefreshReplaysTotal,
		UpstreamRefreshTotal,
		UpstreamRefreshFailures,
		AuthorizationsStarted,
		ClientsRegisteredTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register Prometheus collector")
		}
	}
	log.Info().Msg("Prometheus metrics registered.")
}
