// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package agentapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, cfg.PromptInjectionEnabled)
	require.True(t, cfg.PIIDetectionEnabled)
	require.True(t, cfg.JailbreakDetectionEnabled)
	require.True(t, cfg.AddCostHeaders)
	require.True(t, cfg.BlockMode)
	require.False(t, cfg.SchemaValidationEnabled)
	require.False(t, cfg.FailOpen)
	require.Equal(t, PIIActionLog, cfg.PIIAction)
	require.Zero(t, cfg.MaxTokensPerRequest)
	require.Zero(t, cfg.RateLimitRequests)
	require.Zero(t, cfg.RateLimitTokens)
	require.Empty(t, cfg.AllowedModels)
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		exp  func(t *testing.T, cfg Config)
	}{
		{
			name: "empty document keeps defaults",
			doc:  `{}`,
			exp: func(t *testing.T, cfg Config) {
				require.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "kebab-case keys",
			doc: `{
				"prompt-injection-enabled": false,
				"pii-action": "block",
				"schema-validation-enabled": true,
				"max-tokens-per-request": 500,
				"allowed-models": ["gpt-4", "claude-3"],
				"block-mode": false,
				"rate-limit-requests": 10,
				"rate-limit-tokens": 1000
			}`,
			exp: func(t *testing.T, cfg Config) {
				require.False(t, cfg.PromptInjectionEnabled)
				require.True(t, cfg.PIIDetectionEnabled)
				require.Equal(t, PIIActionBlock, cfg.PIIAction)
				require.True(t, cfg.SchemaValidationEnabled)
				require.Equal(t, uint32(500), cfg.MaxTokensPerRequest)
				require.Equal(t, []string{"gpt-4", "claude-3"}, cfg.AllowedModels)
				require.False(t, cfg.BlockMode)
				require.Equal(t, uint32(10), cfg.RateLimitRequests)
				require.Equal(t, uint32(1000), cfg.RateLimitTokens)
			},
		},
		{
			name: "unknown keys ignored",
			doc:  `{"fail-open": true, "not-a-real-key": 42}`,
			exp: func(t *testing.T, cfg Config) {
				require.True(t, cfg.FailOpen)
				require.True(t, cfg.BlockMode)
			},
		},
		{
			name: "malformed document falls back to defaults",
			doc:  `{"block-mode": fal`,
			exp: func(t *testing.T, cfg Config) {
				require.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "non-object document falls back to defaults",
			doc:  `[1, 2, 3]`,
			exp: func(t *testing.T, cfg Config) {
				require.Equal(t, DefaultConfig(), cfg)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.exp(t, ParseConfig([]byte(tc.doc)))
		})
	}
}

func TestPIIActionUnmarshal(t *testing.T) {
	tests := []struct {
		doc string
		exp PIIAction
	}{
		{`{"pii-action": "block"}`, PIIActionBlock},
		{`{"pii-action": "redact"}`, PIIActionRedact},
		{`{"pii-action": "log"}`, PIIActionLog},
		{`{"pii-action": "BLOCK"}`, PIIActionBlock},
		{`{"pii-action": "Redact"}`, PIIActionRedact},
		{`{"pii-action": "drop"}`, PIIActionLog},
		{`{"pii-action": ""}`, PIIActionLog},
	}
	for _, tc := range tests {
		t.Run(tc.doc, func(t *testing.T) {
			require.Equal(t, tc.exp, ParseConfig([]byte(tc.doc)).PIIAction)
		})
	}
}
