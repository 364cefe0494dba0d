package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_turns_total",
			Help: "Total number of processed conversation turns by status.",
		},
		[]string{"status"}, // ok, degraded, rejected, model_unavailable
	)
	imageCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_image_cache_lookups_total",
			Help: "Total number of image cache lookups by result.",
		},
		[]string{"result"}, // hit, miss
	)
	memoryPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_memory_publishes_total",
			Help: "Total number of memory fact publish attempts by status.",
		},
		[]string{"status"}, // ok, error
	)
)
