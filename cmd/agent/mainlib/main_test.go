// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package mainlib

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelproxy/ai-gateway-agent/agentapi"
)

func TestParseAndValidateFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		flags, err := parseAndValidateFlags(nil)
		require.NoError(t, err)
		assert.Equal(t, ":1071", flags.agentAddr)
		assert.Equal(t, 1072, flags.adminPort)
		assert.Equal(t, slog.LevelInfo, flags.logLevel)
		assert.True(t, flags.promptInjection)
		assert.True(t, flags.piiDetection)
		assert.Equal(t, "log", flags.piiAction)
		assert.True(t, flags.jailbreakDetection)
		assert.False(t, flags.schemaValidation)
		assert.True(t, flags.blockMode)
		assert.False(t, flags.failOpen)
	})

	t.Run("custom values", func(t *testing.T) {
		flags, err := parseAndValidateFlags([]string{
			"-agentAddr", "unix:///tmp/agent.sock",
			"-logLevel", "debug",
			"-piiAction", "block",
			"-allowedModels", "gpt-4, claude-3-opus",
			"-maxTokens", "4096",
			"-rateLimitRequests", "100",
			"-blockMode=false",
		})
		require.NoError(t, err)
		assert.Equal(t, "unix:///tmp/agent.sock", flags.agentAddr)
		assert.Equal(t, slog.LevelDebug, flags.logLevel)
		assert.Equal(t, "block", flags.piiAction)
		assert.False(t, flags.blockMode)

		cfg := flags.config()
		assert.Equal(t, agentapi.PIIActionBlock, cfg.PIIAction)
		assert.Equal(t, []string{"gpt-4", "claude-3-opus"}, cfg.AllowedModels)
		assert.Equal(t, uint32(4096), cfg.MaxTokensPerRequest)
		assert.Equal(t, uint32(100), cfg.RateLimitRequests)
		assert.False(t, cfg.BlockMode)
	})

	t.Run("invalid log level", func(t *testing.T) {
		_, err := parseAndValidateFlags([]string{"-logLevel", "verbose"})
		require.ErrorContains(t, err, "failed to unmarshal log level")
	})

	t.Run("invalid pii action", func(t *testing.T) {
		_, err := parseAndValidateFlags([]string{"-piiAction", "quarantine"})
		require.ErrorContains(t, err, "invalid piiAction")
	})
}

func TestListenAddress(t *testing.T) {
	network, address := listenAddress(":1071")
	assert.Equal(t, "tcp", network)
	assert.Equal(t, ":1071", address)

	network, address = listenAddress("unix:///tmp/agent.sock")
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/tmp/agent.sock", address)
}

func TestFlagsConfigDefaultsMatchPolicyDefaults(t *testing.T) {
	flags, err := parseAndValidateFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, agentapi.DefaultConfig(), flags.config())
}
