// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package provider detects which AI API a request targets and parses the
// heterogeneous request wire shapes into one canonical representation the
// policy pipeline operates on.
package provider

import "strings"

// Provider is a detected AI API vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderAzure     Provider = "azure"
	ProviderUnknown   Provider = "unknown"
)

// String returns the wire name of the provider as emitted in headers and
// audit tags.
func (p Provider) String() string { return string(p) }

// Message is one turn of a conversation with multi-part content already
// flattened to text.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the canonical, provider-agnostic form of an AI API request.
type Request struct {
	Provider Provider
	// Model is the requested model name, empty when the request carries
	// none.
	Model    string
	Messages []Message
	// MaxTokens is the client-requested completion cap, zero when absent.
	MaxTokens uint32
	// SystemPrompt is nil when the request has no system instruction.
	SystemPrompt *string
}

// AllContent returns the strings the detectors scan: every message content
// in order, followed by the system prompt when present.
func (r *Request) AllContent() []string {
	content := make([]string, 0, len(r.Messages)+1)
	for i := range r.Messages {
		content = append(content, r.Messages[i].Content)
	}
	if r.SystemPrompt != nil {
		content = append(content, *r.SystemPrompt)
	}
	return content
}

// EstimateTokens approximates the input token count at four bytes per token,
// counting message roles, message contents and the system prompt. A real
// tokenizer is deliberately not used: the estimate feeds soft accounting
// (cost headers, rate limiting), not billing.
func (r *Request) EstimateTokens() uint32 {
	total := 0
	for i := range r.Messages {
		total += len(r.Messages[i].Content) + len(r.Messages[i].Role)
	}
	if r.SystemPrompt != nil {
		total += len(*r.SystemPrompt)
	}
	return uint32((total + 3) / 4) //nolint:gosec // bounded by body size.
}

// Detect routes a request to a provider from its path and headers. Header
// names must already be lowercased.
//
// Priority is deliberate and must not be reordered: the Azure deployment
// path wins over everything, OpenAI-shaped paths are disambiguated by
// Anthropic auth headers and then by the Bearer token prefix, and bare
// Anthropic paths come last. The Anthropic header tie-break inside the
// OpenAI branch is inherited from the earlier router and never fires on
// these paths; it is kept so the priority is preserved verbatim.
func Detect(path string, headers map[string][]string) Provider {
	if strings.Contains(path, "/openai/deployments/") {
		return ProviderAzure
	}

	if strings.HasPrefix(path, "/v1/chat/completions") ||
		strings.HasPrefix(path, "/v1/completions") ||
		strings.HasPrefix(path, "/v1/embeddings") {
		_, hasAnthropicVersion := headers["anthropic-version"]
		_, hasAPIKey := headers["x-api-key"]
		if hasAnthropicVersion || hasAPIKey {
			if strings.HasPrefix(path, "/v1/messages") || strings.HasPrefix(path, "/v1/complete") {
				return ProviderAnthropic
			}
		}

		for _, auth := range headers["authorization"] {
			if strings.HasPrefix(auth, "Bearer sk-") {
				return ProviderOpenAI
			}
		}

		return ProviderOpenAI
	}

	if strings.HasPrefix(path, "/v1/messages") || strings.HasPrefix(path, "/v1/complete") {
		return ProviderAnthropic
	}

	return ProviderUnknown
}

// Parse parses a request body into its canonical form based on the detected
// provider. Unknown providers try the OpenAI shape first, then Anthropic.
// The second return value is false when the body does not match any
// recognized request shape.
func Parse(p Provider, body string) (*Request, bool) {
	switch p {
	case ProviderOpenAI, ProviderAzure:
		return parseOpenAI(body)
	case ProviderAnthropic:
		return parseAnthropic(body)
	default:
		if req, ok := parseOpenAI(body); ok {
			return req, true
		}
		return parseAnthropic(body)
	}
}
