// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package agent

import (
	"strings"

	"github.com/sentinelproxy/ai-gateway-agent/internal/provider"
)

// EstimateCost returns the estimated USD cost of a request from its provider,
// model and estimated token count. Pricing is a simplified per-1k-token input
// rate. The more specific OpenAI rows are tried before the generic gpt-4 row
// so gpt-4o and gpt-4-turbo resolve to their own rates.
func EstimateCost(p provider.Provider, model string, tokens uint32) float64 {
	var costPer1K float64
	switch {
	case p == provider.ProviderOpenAI && strings.Contains(model, "gpt-4o"):
		costPer1K = 0.005
	case p == provider.ProviderOpenAI && strings.Contains(model, "gpt-4-turbo"):
		costPer1K = 0.01
	case p == provider.ProviderOpenAI && strings.Contains(model, "gpt-4"):
		costPer1K = 0.03
	case p == provider.ProviderOpenAI && strings.Contains(model, "gpt-3.5"):
		costPer1K = 0.0005
	case p == provider.ProviderAnthropic && strings.Contains(model, "opus"):
		costPer1K = 0.015
	case p == provider.ProviderAnthropic && strings.Contains(model, "sonnet"):
		costPer1K = 0.003
	case p == provider.ProviderAnthropic && strings.Contains(model, "haiku"):
		costPer1K = 0.00025
	case p == provider.ProviderAzure:
		costPer1K = 0.01
	default:
		costPer1K = 0.01
	}
	return float64(tokens) / 1000.0 * costPer1K
}
