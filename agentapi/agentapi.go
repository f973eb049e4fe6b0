// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package agentapi defines the event and verdict types exchanged between the
// Sentinel data plane and an out-of-band inspection agent, plus the policy
// configuration delivered by configure events.
//
// The data plane drives an agent through three events per request lifecycle:
// a configure event carrying the policy document, a request-headers event
// opening a correlation, and one or more request-body-chunk events, the last
// of which is marked terminal. Each event yields a Response verdict.
package agentapi

import (
	"context"
	"encoding/json"
	"strings"
)

// EventMetadata carries the transport-level identity of an in-flight request.
type EventMetadata struct {
	// CorrelationID binds a headers event to subsequent body-chunk events.
	CorrelationID string `json:"correlation_id"`
	// ClientIP identifies the downstream client, used as the rate-limit key.
	ClientIP string `json:"client_ip"`
}

// ConfigureEvent delivers a policy configuration document to the agent.
// Config is the raw JSON payload; see ParseConfig for its schema.
type ConfigureEvent struct {
	AgentID string          `json:"agent_id"`
	Config  json.RawMessage `json:"config"`
}

// RequestHeadersEvent opens a request correlation with the HTTP request line
// and headers. Header names arrive with their original casing; use
// NormalizedHeaders before case-sensitive lookups.
type RequestHeadersEvent struct {
	Metadata EventMetadata       `json:"metadata"`
	URI      string              `json:"uri"`
	Method   string              `json:"method"`
	Headers  map[string][]string `json:"headers"`
}

// NormalizedHeaders returns the request headers with lowercased names.
// Values for names differing only in case are merged in map iteration order.
func (e *RequestHeadersEvent) NormalizedHeaders() map[string][]string {
	normalized := make(map[string][]string, len(e.Headers))
	for name, values := range e.Headers {
		lower := strings.ToLower(name)
		normalized[lower] = append(normalized[lower], values...)
	}
	return normalized
}

// RequestBodyChunkEvent delivers one base64-encoded slice of the request
// body. IsLast marks the terminal chunk and triggers evaluation.
type RequestBodyChunkEvent struct {
	CorrelationID string `json:"correlation_id"`
	Data          string `json:"data"`
	IsLast        bool   `json:"is_last"`
	ChunkIndex    uint32 `json:"chunk_index"`
}

// HeaderOp is a single header mutation. The only supported kind is set.
type HeaderOp struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AuditMetadata accumulates the tags and reason codes a verdict carries for
// downstream audit logging.
type AuditMetadata struct {
	Tags        []string `json:"tags,omitempty"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
}

// BlockAction instructs the data plane to answer the client directly instead
// of forwarding the request upstream.
type BlockAction struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// Response is the verdict returned for a single event. A nil Block allows
// the request to proceed with the listed header mutations applied.
type Response struct {
	Block           *BlockAction  `json:"block,omitempty"`
	RequestHeaders  []HeaderOp    `json:"request_headers,omitempty"`
	ResponseHeaders []HeaderOp    `json:"response_headers,omitempty"`
	Audit           AuditMetadata `json:"audit,omitzero"`
}

// DefaultAllow returns an allow verdict with no mutations.
func DefaultAllow() *Response { return &Response{} }

// BlockWith returns a verdict denying the request with the given HTTP status
// and optional response body.
func BlockWith(status int, body string) *Response {
	return &Response{Block: &BlockAction{Status: status, Body: body}}
}

// AddRequestHeader appends a set operation on a request header and returns
// the response for chaining.
func (r *Response) AddRequestHeader(name, value string) *Response {
	r.RequestHeaders = append(r.RequestHeaders, HeaderOp{Name: name, Value: value})
	return r
}

// AddResponseHeader appends a set operation on a response header and returns
// the response for chaining.
func (r *Response) AddResponseHeader(name, value string) *Response {
	r.ResponseHeaders = append(r.ResponseHeaders, HeaderOp{Name: name, Value: value})
	return r
}

// WithAudit attaches audit metadata to the response and returns it for
// chaining.
func (r *Response) WithAudit(audit AuditMetadata) *Response {
	r.Audit = audit
	return r
}

// Handler is the agent-side interface the transport dispatches events to.
// Implementations must be safe for concurrent use: the transport may invoke
// handlers for distinct correlations from independent goroutines.
type Handler interface {
	OnConfigure(ctx context.Context, event ConfigureEvent) *Response
	OnRequestHeaders(ctx context.Context, event RequestHeadersEvent) *Response
	OnRequestBodyChunk(ctx context.Context, event RequestBodyChunkEvent) *Response
}
