package supportsync

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_webhook_deliveries_total",
		Help: "Webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})

	slaEscalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_sla_escalations_total",
		Help: "SLA breaches recorded, by dimension and trigger.",
	}, []string{"dimension", "trigger"})

	reconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "support_reconcile_duration_seconds",
		Help:    "Time spent reconciling one event, including the transaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	notificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "support_escalation_notification_failures_total",
		Help: "Escalation notices that could not be dispatched.",
	})
)

func init() {
	for _, c := range []prometheus.Collector{webhookDeliveries, slaEscalations, reconcileDuration, notificationFailures} {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func recordEscalation(e Escalation, trigger string) {
	if e.FirstResponseBreached {
		slaEscalations.WithLabelValues("first_response", trigger).Inc()
	}
	if e.ResolutionBreached {
		slaEscalations.WithLabelValues("resolution", trigger).Inc()
	}
}
