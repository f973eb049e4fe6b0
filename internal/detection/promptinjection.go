// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package detection

import "regexp"

// PromptInjectionLabel is the detection label reported for prompt injection
// hits, also used as the block reason when block mode is on.
const PromptInjectionLabel = "prompt-injection"

// injectionPatterns match attempts to override system prompts or inject
// instructions into the model context.
var injectionPatterns = []string{
	// Direct instruction override.
	`(?i)ignore\s+(all\s+)?previous\s+instructions?`,
	`(?i)ignore\s+(all\s+)?prior\s+instructions?`,
	`(?i)disregard\s+(all\s+)?previous`,
	`(?i)forget\s+(all\s+)?(your\s+)?instructions?`,
	`(?i)override\s+(your\s+)?instructions?`,
	// New instruction injection.
	`(?i)new\s+instructions?:`,
	`(?i)updated\s+instructions?:`,
	`(?i)system\s+prompt:`,
	`(?i)\[system\]`,
	`(?i)<system>`,
	// Role manipulation.
	`(?i)you\s+are\s+now\s+a`,
	`(?i)act\s+as\s+if\s+you`,
	`(?i)pretend\s+(to\s+be|you\s+are)`,
	`(?i)roleplay\s+as`,
	`(?i)simulate\s+being`,
	// Prompt extraction.
	`(?i)reveal\s+(your\s+)?system\s+prompt`,
	`(?i)show\s+(me\s+)?(your\s+)?instructions`,
	`(?i)what\s+(are|is)\s+(your\s+)?system\s+prompt`,
	`(?i)print\s+(your\s+)?initial\s+prompt`,
	// Context manipulation.
	`(?i)end\s+of\s+system\s+prompt`,
	`(?i)</?(system|instructions?)>`,
	`(?i)\[/?INST\]`,
	`(?i)<<SYS>>`,
}

// PromptInjectionDetector scans text for prompt injection attempts.
type PromptInjectionDetector struct {
	patterns []*regexp.Regexp
}

// NewPromptInjectionDetector compiles the injection pattern set.
func NewPromptInjectionDetector() *PromptInjectionDetector {
	return &PromptInjectionDetector{patterns: mustCompileAll(injectionPatterns)}
}

// Detect reports whether text contains a prompt injection attempt, returning
// the detection label on a hit.
func (d *PromptInjectionDetector) Detect(text string) (string, bool) {
	if matchesAny(d.patterns, text) {
		return PromptInjectionLabel, true
	}
	return "", false
}

// DetectAny scans texts in order and returns the first detection.
func (d *PromptInjectionDetector) DetectAny(texts []string) (string, bool) {
	for _, text := range texts {
		if label, ok := d.Detect(text); ok {
			return label, true
		}
	}
	return "", false
}
