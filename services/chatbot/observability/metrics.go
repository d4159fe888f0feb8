// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the service's Prometheus collectors.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts inbound webhook events by outcome:
	// handled, ignored, fallback, error.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workcheck",
		Subsystem: "chatbot",
		Name:      "events_processed_total",
		Help:      "Inbound webhook events by outcome.",
	}, []string{"outcome"})

	// FlowsCompleted counts terminal flow transitions (task created,
	// status updated) by flow name.
	FlowsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workcheck",
		Subsystem: "chatbot",
		Name:      "flows_completed_total",
		Help:      "Conversational flows that reached their terminal action.",
	}, []string{"flow"})

	// SendFailures counts outbound deliveries the provider rejected.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "workcheck",
		Subsystem: "chatbot",
		Name:      "send_failures_total",
		Help:      "Outbound messages the provider failed to accept.",
	})

	// TenantConnectionsOpened counts cold opens of tenant store connections.
	TenantConnectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "workcheck",
		Subsystem: "chatbot",
		Name:      "tenant_connections_opened_total",
		Help:      "Tenant store connections opened on resolver cache misses.",
	})
)
