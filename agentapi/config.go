// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package agentapi

import (
	"encoding/json"
	"strings"
)

// PIIAction selects what the pipeline does when PII is found in a request.
type PIIAction string

const (
	// PIIActionBlock denies the request when block mode is on.
	PIIActionBlock PIIAction = "block"
	// PIIActionRedact is recognized but behaves as PIIActionLog: the agent
	// never rewrites bodies on the wire, so redaction is annotation-only
	// until the data plane supports body mutation.
	PIIActionRedact PIIAction = "redact"
	// PIIActionLog annotates and audits without affecting the verdict.
	PIIActionLog PIIAction = "log"
)

// UnmarshalJSON accepts the action case-insensitively and maps unrecognized
// values to PIIActionLog.
func (a *PIIAction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch action := PIIAction(strings.ToLower(s)); action {
	case PIIActionBlock, PIIActionRedact, PIIActionLog:
		*a = action
	default:
		*a = PIIActionLog
	}
	return nil
}

// Config is the policy configuration of the agent. It is delivered as the
// JSON payload of a configure event with kebab-case keys, and can equally be
// assembled from command line flags.
//
// The zero value is not useful; start from DefaultConfig.
type Config struct {
	// PromptInjectionEnabled turns the prompt-injection detector on.
	PromptInjectionEnabled bool `json:"prompt-injection-enabled"`
	// PIIDetectionEnabled turns the PII detector on.
	PIIDetectionEnabled bool `json:"pii-detection-enabled"`
	// PIIAction is what to do when PII is detected.
	PIIAction PIIAction `json:"pii-action"`
	// JailbreakDetectionEnabled turns the jailbreak detector on.
	JailbreakDetectionEnabled bool `json:"jailbreak-detection-enabled"`
	// SchemaValidationEnabled turns JSON schema validation of request
	// bodies on.
	SchemaValidationEnabled bool `json:"schema-validation-enabled"`
	// MaxTokensPerRequest caps the client-requested max_tokens. Zero means
	// no ceiling.
	MaxTokensPerRequest uint32 `json:"max-tokens-per-request"`
	// AddCostHeaders emits the estimated-cost request header.
	AddCostHeaders bool `json:"add-cost-headers"`
	// AllowedModels restricts which models may be requested. Empty allows
	// all. Matching is substring containment in either direction.
	AllowedModels []string `json:"allowed-models"`
	// BlockMode turns detections into denials. When off the agent runs in
	// detect-only mode: detectors still annotate and audit but the verdict
	// stays allow.
	BlockMode bool `json:"block-mode"`
	// FailOpen allows requests whose body cannot be decoded instead of
	// answering 400.
	FailOpen bool `json:"fail-open"`
	// RateLimitRequests caps requests per minute per client. Zero means
	// unlimited.
	RateLimitRequests uint32 `json:"rate-limit-requests"`
	// RateLimitTokens caps estimated tokens per minute per client. Zero
	// means unlimited.
	RateLimitTokens uint32 `json:"rate-limit-tokens"`
}

// DefaultConfig returns the configuration used when no policy document has
// been delivered or when one fails to parse: all detectors on, schema
// validation off, PII logged, block mode on, fail open off, no limits.
func DefaultConfig() Config {
	return Config{
		PromptInjectionEnabled:    true,
		PIIDetectionEnabled:       true,
		PIIAction:                 PIIActionLog,
		JailbreakDetectionEnabled: true,
		AddCostHeaders:            true,
		BlockMode:                 true,
	}
}

// ParseConfig parses a policy document. Absent keys keep their defaults and
// unknown keys are ignored. A document that fails to parse yields
// DefaultConfig so a malformed configure event never takes the agent down.
func ParseConfig(data []byte) Config {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig()
	}
	return cfg
}
