// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package detection

import "regexp"

// JailbreakLabel is the detection label reported for jailbreak hits, also
// used as the block reason when block mode is on.
const JailbreakLabel = "jailbreak-attempt"

// jailbreakPatterns match attempts to bypass model safety measures.
var jailbreakPatterns = []string{
	// DAN and variants.
	`(?i)\bDAN\b`,
	`(?i)do\s+anything\s+now`,
	`(?i)STAN`,
	`(?i)DUDE`,
	// Explicit jailbreak.
	`(?i)jailbreak`,
	`(?i)jail\s*break`,
	`(?i)unlock\s+your\s+(full\s+)?potential`,
	// Developer/debug mode.
	`(?i)developer\s+mode`,
	`(?i)debug\s+mode`,
	`(?i)maintenance\s+mode`,
	`(?i)sudo\s+mode`,
	`(?i)god\s+mode`,
	`(?i)admin\s+mode`,
	// Bypass attempts.
	`(?i)bypass\s+(your\s+)?programming`,
	`(?i)bypass\s+(your\s+)?restrictions`,
	`(?i)bypass\s+(your\s+)?filters`,
	`(?i)bypass\s+(your\s+)?safety`,
	`(?i)bypass\s+(your\s+)?guidelines`,
	`(?i)circumvent\s+(your\s+)?rules`,
	// Ethics bypass.
	`(?i)ignore\s+(your\s+)?ethical`,
	`(?i)ignore\s+(your\s+)?moral`,
	`(?i)ignore\s+(your\s+)?safety`,
	`(?i)without\s+(any\s+)?restrictions`,
	`(?i)no\s+limitations`,
	`(?i)unrestricted\s+mode`,
	// Hypothetical framing.
	`(?i)hypothetically\s+speaking`,
	`(?i)in\s+a\s+hypothetical\s+scenario`,
	`(?i)for\s+educational\s+purposes\s+only`,
	`(?i)for\s+research\s+purposes`,
	`(?i)purely\s+academic`,
	`(?i)in\s+fiction`,
	`(?i)in\s+a\s+novel`,
	`(?i)in\s+a\s+movie`,
	// Persona forcing.
	`(?i)evil\s+(twin|version|mode)`,
	`(?i)dark\s+mode`,
	`(?i)uncensored\s+(version|mode)`,
	`(?i)unfiltered\s+(version|mode)`,
	// Token manipulation.
	`(?i)\[jailbreak\]`,
	`(?i)\[unlock\]`,
	`(?i)\[unrestricted\]`,
	"(?i)```jailbreak",
}

// JailbreakDetector scans text for jailbreak attempts.
type JailbreakDetector struct {
	patterns []*regexp.Regexp
}

// NewJailbreakDetector compiles the jailbreak pattern set.
func NewJailbreakDetector() *JailbreakDetector {
	return &JailbreakDetector{patterns: mustCompileAll(jailbreakPatterns)}
}

// Detect reports whether text contains a jailbreak attempt, returning the
// detection label on a hit.
func (d *JailbreakDetector) Detect(text string) (string, bool) {
	if matchesAny(d.patterns, text) {
		return JailbreakLabel, true
	}
	return "", false
}

// DetectAny scans texts in order and returns the first detection.
func (d *JailbreakDetector) DetectAny(texts []string) (string, bool) {
	for _, text := range texts {
		if label, ok := d.Detect(text); ok {
			return label, true
		}
	}
	return "", false
}
