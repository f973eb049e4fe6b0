// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package detection

import (
	"regexp"
	"sort"
	"strings"
)

// PIIType identifies a category of personally identifiable information.
// The ordinal defines the canonical sort order of detected type lists.
type PIIType int

const (
	PIITypeEmail PIIType = iota
	PIITypeSSN
	PIITypePhone
	PIITypeCreditCard
	PIITypeIPAddress
)

// String returns the wire name of the type as emitted in headers and tags.
func (t PIIType) String() string {
	switch t {
	case PIITypeEmail:
		return "email"
	case PIITypeSSN:
		return "ssn"
	case PIITypePhone:
		return "phone"
	case PIITypeCreditCard:
		return "credit-card"
	case PIITypeIPAddress:
		return "ip-address"
	default:
		return "unknown"
	}
}

// Redaction returns the placeholder substituted for matches of this type.
func (t PIIType) Redaction() string {
	switch t {
	case PIITypeEmail:
		return "[EMAIL REDACTED]"
	case PIITypeSSN:
		return "[SSN REDACTED]"
	case PIITypePhone:
		return "[PHONE REDACTED]"
	case PIITypeCreditCard:
		return "[CARD REDACTED]"
	case PIITypeIPAddress:
		return "[IP REDACTED]"
	default:
		return "[REDACTED]"
	}
}

// PIIMatch is one occurrence of PII in scanned text. Start and End are byte
// offsets.
type PIIMatch struct {
	Type    PIIType
	Start   int
	End     int
	Matched string
}

// PIIDetector scans text for emails, SSNs, phone numbers, credit card
// numbers and public IPv4 addresses.
type PIIDetector struct {
	email      *regexp.Regexp
	ssn        *regexp.Regexp
	phone      *regexp.Regexp
	creditCard *regexp.Regexp
	ip         *regexp.Regexp
}

// NewPIIDetector compiles the PII pattern set.
func NewPIIDetector() *PIIDetector {
	return &PIIDetector{
		email: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		ssn:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		phone: regexp.MustCompile(`\b(?:\+1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		// Luhn is deliberately not checked: any 16-digit group counts.
		creditCard: regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
		ip:         regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
	}
}

// privateIPPrefixes are skipped by the IP detector to cut noise from
// localhost and common private ranges. 172.16.0.0/12 is intentionally not
// on this list.
var privateIPPrefixes = []string{"127.", "10.", "192.168.", "0."}

func (d *PIIDetector) appendMatches(matches []PIIMatch, re *regexp.Regexp, t PIIType, text string) []PIIMatch {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		matched := text[loc[0]:loc[1]]
		if t == PIITypeIPAddress {
			private := false
			for _, prefix := range privateIPPrefixes {
				if strings.HasPrefix(matched, prefix) {
					private = true
					break
				}
			}
			if private {
				continue
			}
		}
		matches = append(matches, PIIMatch{Type: t, Start: loc[0], End: loc[1], Matched: matched})
	}
	return matches
}

// Detect returns every PII occurrence in text, ordered by start offset.
// Matches at the same offset keep detector order: email, SSN, phone, credit
// card, IP address.
func (d *PIIDetector) Detect(text string) []PIIMatch {
	var matches []PIIMatch
	matches = d.appendMatches(matches, d.email, PIITypeEmail, text)
	matches = d.appendMatches(matches, d.ssn, PIITypeSSN, text)
	matches = d.appendMatches(matches, d.phone, PIITypePhone, text)
	matches = d.appendMatches(matches, d.creditCard, PIITypeCreditCard, text)
	matches = d.appendMatches(matches, d.ip, PIITypeIPAddress, text)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches
}

// HasPII is a fast-path check that reports whether text contains an email,
// SSN, phone number or credit card number. IP addresses are not considered.
func (d *PIIDetector) HasPII(text string) bool {
	return d.email.MatchString(text) ||
		d.ssn.MatchString(text) ||
		d.phone.MatchString(text) ||
		d.creditCard.MatchString(text)
}

// Redact replaces every detected occurrence with its type placeholder.
// Matches starting inside an already replaced span are dropped.
func (d *PIIDetector) Redact(text string) string {
	matches := d.Detect(text)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	lastEnd := 0
	for _, m := range matches {
		if m.Start < lastEnd {
			continue
		}
		b.WriteString(text[lastEnd:m.Start])
		b.WriteString(m.Type.Redaction())
		lastEnd = m.End
	}
	b.WriteString(text[lastEnd:])
	return b.String()
}

// DetectTypes returns the distinct PII types present in text, sorted by
// type ordinal.
func (d *PIIDetector) DetectTypes(text string) []PIIType {
	matches := d.Detect(text)
	if len(matches) == 0 {
		return nil
	}
	types := make([]PIIType, 0, len(matches))
	for _, m := range matches {
		types = append(types, m.Type)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	deduped := types[:1]
	for _, t := range types[1:] {
		if t != deduped[len(deduped)-1] {
			deduped = append(deduped, t)
		}
	}
	return deduped
}
