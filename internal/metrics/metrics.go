// Package metrics provides Prometheus collectors for auth and draft traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts API requests by route.
	// Labels: route, status
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secondbrain",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests handled",
		},
		[]string{"route", "status"},
	)

	// TokenRefreshes counts refresh attempts.
	// Labels: side (client, server), result (success, error)
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secondbrain",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of access token refresh attempts",
		},
		[]string{"side", "result"},
	)

	// DraftSaves counts fast-store writes.
	// Labels: result (success, error, fallback)
	DraftSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secondbrain",
			Subsystem: "drafts",
			Name:      "saves_total",
			Help:      "Total number of draft writes to the fast store",
		},
		[]string{"result"},
	)

	// Promotions counts draft promotions into the durable store.
	// Labels: source (batch, manual, beacon), result (success, skipped, error)
	Promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secondbrain",
			Subsystem: "drafts",
			Name:      "promotions_total",
			Help:      "Total number of draft promotions to the durable store",
		},
		[]string{"source", "result"},
	)

	// BeaconsSent counts teardown beacons handed off for delivery.
	BeaconsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "secondbrain",
			Subsystem: "drafts",
			Name:      "beacons_sent_total",
			Help:      "Total number of teardown flush beacons dispatched",
		},
	)

	// Broadcasts counts AUTH_CHANGED deliveries to extension peers.
	// Labels: result (delivered, gone, error)
	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secondbrain",
			Subsystem: "extension",
			Name:      "broadcasts_total",
			Help:      "Total number of auth change notifications sent to peers",
		},
		[]string{"result"},
	)
)
