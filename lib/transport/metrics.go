package transport

import (
	"github.com/payhub/payhub.go/lib/poller"
	promclient "github.com/prometheus/client_golang/prometheus"
)

type PollerStats interface {
	Stats() poller.Stats
}

// PollerCollectors exposes the poller counters as gauges. They are gauges,
// not counters, because the stats can be reset over the API.
func PollerCollectors(p PollerStats) []promclient.Collector {
	gauge := func(name, help string, value func(s poller.Stats) float64) promclient.Collector {
		return promclient.NewGaugeFunc(promclient.GaugeOpts{
			Namespace: "payhub",
			Subsystem: "poller",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(p.Stats()) })
	}
	return []promclient.Collector{
		gauge("polls", "Sweeps run since start or the last reset.", func(s poller.Stats) float64 { return float64(s.PollCount) }),
		gauge("payments_found", "Payments newly recorded by sweeps.", func(s poller.Stats) float64 { return float64(s.PaymentsFound) }),
		gauge("payments_confirmed", "Payments that became confirmed during sweeps.", func(s poller.Stats) float64 { return float64(s.PaymentsConfirmed) }),
		gauge("errors", "Sweep and invoice processing errors.", func(s poller.Stats) float64 { return float64(s.Errors) }),
		gauge("running", "1 while the poller schedule is active.", func(s poller.Stats) float64 {
			if s.IsRunning {
				return 1
			}
			return 0
		}),
		gauge("last_poll_timestamp_seconds", "Unix time of the last finished sweep.", func(s poller.Stats) float64 {
			if s.LastPollTime == nil {
				return 0
			}
			return float64(s.LastPollTime.Unix())
		}),
	}
}

// RegisterPollerMetrics registers the poller gauges, on the default registry
// when registerer is nil.
func RegisterPollerMetrics(registerer promclient.Registerer, p PollerStats) error {
	if registerer == nil {
		registerer = promclient.DefaultRegisterer
	}
	for _, collector := range PollerCollectors(p) {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
