// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package metrics holds the OpenTelemetry instruments recorded by the
// inspection agent.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequests        = "ai_gateway.requests"
	metricRequestsBlocked = "ai_gateway.requests.blocked"
	metricDetections      = "ai_gateway.detections"
	metricTokensEstimated = "ai_gateway.tokens.estimated"

	attributeProvider = "ai_gateway.provider"
	attributeModel    = "ai_gateway.request.model"
	attributeReason   = "ai_gateway.block.reason"
	attributeCategory = "ai_gateway.detection.category"
)

// AgentMetrics counts inspected requests, block verdicts and detector hits,
// and tracks the estimated token size of inspected requests.
type AgentMetrics struct {
	requests        metric.Int64Counter
	blocked         metric.Int64Counter
	detections      metric.Int64Counter
	tokensEstimated metric.Float64Histogram
}

// NewAgentMetrics registers the agent instruments on the meter.
func NewAgentMetrics(meter metric.Meter) *AgentMetrics {
	return &AgentMetrics{
		requests: mustRegisterCounter(meter,
			metricRequests,
			metric.WithDescription("Number of requests inspected."),
			metric.WithUnit("{request}"),
		),
		blocked: mustRegisterCounter(meter,
			metricRequestsBlocked,
			metric.WithDescription("Number of requests blocked."),
			metric.WithUnit("{request}"),
		),
		detections: mustRegisterCounter(meter,
			metricDetections,
			metric.WithDescription("Number of detector hits, by category."),
			metric.WithUnit("{detection}"),
		),
		tokensEstimated: mustRegisterHistogram(meter,
			metricTokensEstimated,
			metric.WithDescription("Estimated prompt tokens of inspected requests."),
			metric.WithUnit("{token}"),
			metric.WithExplicitBucketBoundaries(1, 4, 16, 64, 256, 1024, 4096, 16384, 65536, 262144),
		),
	}
}

// RecordRequest counts one inspected request with its detected provider and
// model. Empty values are reported as "unknown".
func (m *AgentMetrics) RecordRequest(ctx context.Context, provider, model string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.Key(attributeProvider).String(orUnknown(provider)),
		attribute.Key(attributeModel).String(orUnknown(model)),
	))
}

// RecordBlocked counts one blocked request with the reason code that caused
// the verdict.
func (m *AgentMetrics) RecordBlocked(ctx context.Context, provider, reason string) {
	m.blocked.Add(ctx, 1, metric.WithAttributes(
		attribute.Key(attributeProvider).String(orUnknown(provider)),
		attribute.Key(attributeReason).String(reason),
	))
}

// RecordDetection counts one detector hit in the given category, e.g.
// "prompt-injection" or "pii".
func (m *AgentMetrics) RecordDetection(ctx context.Context, category string) {
	m.detections.Add(ctx, 1, metric.WithAttributes(
		attribute.Key(attributeCategory).String(category),
	))
}

// RecordTokensEstimated tracks the estimated token size of one request.
func (m *AgentMetrics) RecordTokensEstimated(ctx context.Context, provider string, tokens uint32) {
	m.tokensEstimated.Record(ctx, float64(tokens), metric.WithAttributes(
		attribute.Key(attributeProvider).String(orUnknown(provider)),
	))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// mustRegisterCounter registers a counter with the meter and panics if it fails.
func mustRegisterCounter(meter metric.Meter, name string, options ...metric.Int64CounterOption) metric.Int64Counter {
	c, err := meter.Int64Counter(name, options...)
	if err != nil {
		panic(err)
	}
	return c
}

// mustRegisterHistogram registers a histogram with the meter and panics if it fails.
func mustRegisterHistogram(meter metric.Meter, name string, options ...metric.Float64HistogramOption) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, options...)
	if err != nil {
		panic(err)
	}
	return h
}
