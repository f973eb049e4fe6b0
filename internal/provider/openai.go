// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// openAIRequest covers both the chat completion and the legacy completion
// wire shapes. Pointer fields distinguish absent from zero.
type openAIRequest struct {
	Model     *string         `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens *uint32         `json:"max_tokens"`
	Prompt    *string         `json:"prompt"`
}

type openAIMessage struct {
	Role    *string        `json:"role"`
	Content *openAIContent `json:"content"`
}

// openAIContent is the string-or-parts union used by vision requests. Parts
// that are not text are dropped; text parts are joined with a single space.
type openAIContent struct {
	text string
}

type openAIContentPart struct {
	Type *string `json:"type"`
	Text *string `json:"text"`
}

func (c *openAIContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		return nil
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts: %w", err)
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type == nil {
			return fmt.Errorf("content part missing type")
		}
		if *part.Type == "text" && part.Text != nil {
			texts = append(texts, *part.Text)
		}
	}
	c.text = strings.Join(texts, " ")
	return nil
}

// parseOpenAI parses an OpenAI chat or legacy completion body. A system
// message doubles as the canonical system prompt; when both messages and a
// legacy prompt are present the prompt is appended as a trailing user turn.
func parseOpenAI(body string) (*Request, bool) {
	var parsed openAIRequest
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, false
	}

	var (
		messages     []Message
		systemPrompt *string
	)
	for _, msg := range parsed.Messages {
		if msg.Role == nil || msg.Content == nil {
			return nil, false
		}
		content := msg.Content.text
		if *msg.Role == "system" {
			s := content
			systemPrompt = &s
		}
		messages = append(messages, Message{Role: *msg.Role, Content: content})
	}

	if parsed.Prompt != nil {
		messages = append(messages, Message{Role: "user", Content: *parsed.Prompt})
	}

	if len(messages) == 0 {
		return nil, false
	}

	req := &Request{Provider: ProviderOpenAI, Messages: messages, SystemPrompt: systemPrompt}
	if parsed.Model != nil {
		req.Model = *parsed.Model
	}
	if parsed.MaxTokens != nil {
		req.MaxTokens = *parsed.MaxTokens
	}
	return req, true
}
