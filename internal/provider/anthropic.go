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

// anthropicRequest covers both the messages API and the legacy text
// completion API.
type anthropicRequest struct {
	Model     *string            `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens *uint32            `json:"max_tokens"`
	System    *anthropicContent  `json:"system"`
	Prompt    *string            `json:"prompt"`
}

type anthropicMessage struct {
	Role    *string           `json:"role"`
	Content *anthropicContent `json:"content"`
}

// anthropicContent is the string-or-blocks union used by both message
// content and the system field. Non-text blocks are dropped; text blocks are
// joined with a single space.
type anthropicContent struct {
	text string
}

type anthropicContentBlock struct {
	Type *string `json:"type"`
	Text *string `json:"text"`
}

func (c *anthropicContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		return nil
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	texts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Type == nil {
			return fmt.Errorf("content block missing type")
		}
		if *block.Type == "text" && block.Text != nil {
			texts = append(texts, *block.Text)
		}
	}
	c.text = strings.Join(texts, " ")
	return nil
}

// parseAnthropic parses an Anthropic messages or legacy completion body.
// Legacy prompts in the Human:/Assistant: convention are split into turns;
// a prompt without that structure becomes a single user message.
func parseAnthropic(body string) (*Request, bool) {
	var parsed anthropicRequest
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, false
	}

	var (
		messages     []Message
		systemPrompt *string
	)
	if parsed.System != nil {
		s := parsed.System.text
		systemPrompt = &s
	}

	for _, msg := range parsed.Messages {
		if msg.Role == nil || msg.Content == nil {
			return nil, false
		}
		messages = append(messages, Message{Role: *msg.Role, Content: msg.Content.text})
	}

	if parsed.Prompt != nil {
		for _, part := range strings.Split(*parsed.Prompt, "\n\n") {
			part = strings.TrimSpace(part)
			if text, ok := strings.CutPrefix(part, "Human:"); ok {
				if content := strings.TrimSpace(text); content != "" {
					messages = append(messages, Message{Role: "user", Content: content})
				}
			} else if text, ok := strings.CutPrefix(part, "Assistant:"); ok {
				if content := strings.TrimSpace(text); content != "" {
					messages = append(messages, Message{Role: "assistant", Content: content})
				}
			}
		}

		// No structured turns found, take the whole prompt as one user turn.
		if len(messages) == 0 {
			messages = append(messages, Message{Role: "user", Content: *parsed.Prompt})
		}
	}

	if len(messages) == 0 {
		return nil, false
	}

	req := &Request{Provider: ProviderAnthropic, Messages: messages, SystemPrompt: systemPrompt}
	if parsed.Model != nil {
		req.Model = *parsed.Model
	}
	if parsed.MaxTokens != nil {
		req.MaxTokens = *parsed.MaxTokens
	}
	return req, true
}
