package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mason_events_published_total",
		Help: "Progress events published, by event type.",
	}, []string{"type"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mason_events_dropped_total",
		Help: "Progress events dropped because a subscriber queue was full, by event type.",
	}, []string{"type"})
)
