// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestAgentMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewAgentMetrics(provider.Meter("test"))

	ctx := t.Context()
	m.RecordRequest(ctx, "openai", "gpt-4o")
	m.RecordRequest(ctx, "", "")
	m.RecordBlocked(ctx, "anthropic", "PROMPT_INJECTION")
	m.RecordDetection(ctx, "prompt-injection")
	m.RecordDetection(ctx, "pii")
	m.RecordTokensEstimated(ctx, "openai", 512)

	collected := collect(t, reader)

	requests, ok := collected["ai_gateway.requests"]
	require.True(t, ok)
	require.Equal(t, int64(2), sumValue(t, requests))

	blocked, ok := collected["ai_gateway.requests.blocked"]
	require.True(t, ok)
	require.Equal(t, int64(1), sumValue(t, blocked))
	blockedSum := blocked.Data.(metricdata.Sum[int64])
	require.Len(t, blockedSum.DataPoints, 1)
	reason, ok := blockedSum.DataPoints[0].Attributes.Value(attribute.Key("ai_gateway.block.reason"))
	require.True(t, ok)
	require.Equal(t, "PROMPT_INJECTION", reason.AsString())

	detections, ok := collected["ai_gateway.detections"]
	require.True(t, ok)
	require.Equal(t, int64(2), sumValue(t, detections))

	tokens, ok := collected["ai_gateway.tokens.estimated"]
	require.True(t, ok)
	hist, histOK := tokens.Data.(metricdata.Histogram[float64])
	require.True(t, histOK)
	require.Len(t, hist.DataPoints, 1)
	require.Equal(t, uint64(1), hist.DataPoints[0].Count)
	require.Equal(t, float64(512), hist.DataPoints[0].Sum)
}

func TestAgentMetricsUnknownFallback(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewAgentMetrics(provider.Meter("test"))

	m.RecordRequest(t.Context(), "", "")

	requests := collect(t, reader)["ai_gateway.requests"]
	sum := requests.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	prov, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("ai_gateway.provider"))
	require.True(t, ok)
	require.Equal(t, "unknown", prov.AsString())
	model, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("ai_gateway.request.model"))
	require.True(t, ok)
	require.Equal(t, "unknown", model.AsString())
}
