package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var memoryFactsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "companion_memory_facts_total",
		Help: "Total number of memory facts processed by outcome.",
	},
	[]string{"outcome"}, // delivered, dropped
)
