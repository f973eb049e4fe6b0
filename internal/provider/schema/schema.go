// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package schema validates AI API request bodies against Draft-07 JSON
// schemas, one per recognized request flavor. Schemas compile once at
// package init; a compilation failure is a process-level fatal.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/sentinelproxy/ai-gateway-agent/internal/provider"
)

// Result reports a validation outcome. Errors holds one human-readable
// string per violation, prefixed with the JSON pointer of the offending
// instance location when it is not the document root.
type Result struct {
	Valid  bool
	Errors []string
}

func valid() Result { return Result{Valid: true} }

func invalid(errors ...string) Result { return Result{Errors: errors} }

var (
	openAIChat        = mustCompile("openai-chat.schema.json", openAIChatSchema)
	openAICompletion  = mustCompile("openai-completion.schema.json", openAICompletionSchema)
	anthropicMessages = mustCompile("anthropic-messages.schema.json", anthropicMessagesSchema)
)

func mustCompile(name, doc string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(name, strings.NewReader(doc)); err != nil {
		panic(fmt.Sprintf("failed to add schema resource %s: %v", name, err))
	}
	return c.MustCompile(name)
}

// decode parses the body the way the validator expects, with numbers kept
// as json.Number.
func decode(body string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected trailing data")
	}
	return v, nil
}

// flattenErrors walks the validation error tree and collects the leaf
// violations.
func flattenErrors(ve *jsonschema.ValidationError, out []string) []string {
	if len(ve.Causes) == 0 {
		if ve.InstanceLocation != "" {
			return append(out, fmt.Sprintf("%s: %s", ve.InstanceLocation, ve.Message))
		}
		return append(out, ve.Message)
	}
	for _, cause := range ve.Causes {
		out = flattenErrors(cause, out)
	}
	return out
}

func validateAgainst(s *jsonschema.Schema, body string) Result {
	v, err := decode(body)
	if err != nil {
		return invalid(fmt.Sprintf("Invalid JSON: %v", err))
	}
	if err := s.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return invalid(flattenErrors(ve, nil)...)
		}
		return invalid(err.Error())
	}
	return valid()
}

// ValidateOpenAIChat validates a chat completion request body.
func ValidateOpenAIChat(body string) Result { return validateAgainst(openAIChat, body) }

// ValidateOpenAICompletion validates a legacy completion request body.
func ValidateOpenAICompletion(body string) Result { return validateAgainst(openAICompletion, body) }

// ValidateAnthropicMessages validates a messages API request body.
func ValidateAnthropicMessages(body string) Result { return validateAgainst(anthropicMessages, body) }

// Validate validates a request body against the schema for the detected
// provider, auto-detecting the request flavor from the body fields.
//
// For unknown providers a messages body with max_tokens and a model that
// does not look like a GPT model is taken as Anthropic, since only the
// Anthropic schema requires max_tokens.
func Validate(p provider.Provider, body string) Result {
	if _, err := decode(body); err != nil {
		return invalid(fmt.Sprintf("Invalid JSON: %v", err))
	}

	hasMessages := gjson.Get(body, "messages").Exists()
	hasPrompt := gjson.Get(body, "prompt").Exists()

	switch p {
	case provider.ProviderOpenAI, provider.ProviderAzure:
		switch {
		case hasMessages:
			return ValidateOpenAIChat(body)
		case hasPrompt:
			return ValidateOpenAICompletion(body)
		default:
			return invalid("Missing required field: 'messages' or 'prompt'")
		}
	case provider.ProviderAnthropic:
		return ValidateAnthropicMessages(body)
	default:
		switch {
		case hasMessages:
			hasMaxTokens := gjson.Get(body, "max_tokens").Exists()
			gptModel := strings.HasPrefix(gjson.Get(body, "model").String(), "gpt")
			if hasMaxTokens && !gptModel {
				return ValidateAnthropicMessages(body)
			}
			return ValidateOpenAIChat(body)
		case hasPrompt:
			return ValidateOpenAICompletion(body)
		default:
			return invalid("Unable to determine request format")
		}
	}
}
