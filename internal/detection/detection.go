// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package detection holds the content detectors the policy pipeline runs
// over request text: prompt injection, jailbreak attempts and PII.
//
// Detector instances are immutable after construction and safe to share
// across goroutines. All patterns compile at construction; a pattern that
// fails to compile panics, which keeps a broken detector set from ever
// serving traffic.
package detection

import "regexp"

func mustCompileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
