// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package agent implements the inspection pipeline: it buffers request body
// chunks per correlation, parses the accumulated body into canonical form and
// runs the ordered policy checks that produce the verdict returned to the
// data plane.
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sentinelproxy/ai-gateway-agent/agentapi"
	"github.com/sentinelproxy/ai-gateway-agent/internal/detection"
	"github.com/sentinelproxy/ai-gateway-agent/internal/metrics"
	"github.com/sentinelproxy/ai-gateway-agent/internal/provider"
	"github.com/sentinelproxy/ai-gateway-agent/internal/provider/schema"
	"github.com/sentinelproxy/ai-gateway-agent/internal/ratelimit"
)

const (
	headerProvider        = "X-AI-Gateway-Provider"
	headerModel           = "X-AI-Gateway-Model"
	headerSchemaValid     = "X-AI-Gateway-Schema-Valid"
	headerSchemaErrors    = "X-AI-Gateway-Schema-Errors"
	headerTokensEstimated = "X-AI-Gateway-Tokens-Estimated"
	headerCostEstimated   = "X-AI-Gateway-Cost-Estimated"
	headerPIIDetected     = "X-AI-Gateway-PII-Detected"
	headerBlocked         = "X-AI-Gateway-Blocked"
	headerBlockedReason   = "X-AI-Gateway-Blocked-Reason"

	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitTokens            = "X-RateLimit-Limit-Tokens"
	headerRateLimitRemainingTokens   = "X-RateLimit-Remaining-Tokens"
	headerRateLimitReset             = "X-RateLimit-Reset"
	headerRetryAfter                 = "Retry-After"
)

var _ agentapi.Handler = (*Agent)(nil)

// requestState accumulates one in-flight request between the headers event
// and its terminal body chunk.
type requestState struct {
	provider provider.Provider
	chunks   [][]byte
	clientIP string
}

// Agent inspects AI API requests out of band and returns verdicts. It is
// safe for concurrent use: the transport may dispatch events for distinct
// correlations from independent goroutines.
type Agent struct {
	logger  *slog.Logger
	metrics *metrics.AgentMetrics

	// Detectors are immutable after construction and shared across requests.
	injection *detection.PromptInjectionDetector
	jailbreak *detection.JailbreakDetector
	pii       *detection.PIIDetector

	// mu guards the active configuration and the limiter it owns. Handlers
	// take one snapshot per request; a swap mid-request does not affect it.
	mu      sync.RWMutex
	cfg     agentapi.Config
	cfgID   string
	limiter *ratelimit.Limiter

	// reqMu guards the correlation map. It is held only to insert, append or
	// extract; never across policy evaluation.
	reqMu    sync.Mutex
	requests map[string]*requestState
}

// New creates an agent with the given initial configuration. Detector
// pattern compilation panics on failure, so a bad pattern set surfaces at
// startup rather than per request.
func New(cfg agentapi.Config, logger *slog.Logger, m *metrics.AgentMetrics) *Agent {
	return &Agent{
		logger:    logger,
		metrics:   m,
		injection: detection.NewPromptInjectionDetector(),
		jailbreak: detection.NewJailbreakDetector(),
		pii:       detection.NewPIIDetector(),
		cfg:       cfg,
		cfgID:     uuid.NewString(),
		limiter:   newLimiter(cfg),
		requests:  make(map[string]*requestState),
	}
}

func newLimiter(cfg agentapi.Config) *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRequests,
		TokensPerMinute:   cfg.RateLimitTokens,
	})
}

// Reconfigure atomically swaps the active configuration. The rate limiter is
// replaced wholesale, resetting every per-client window.
func (a *Agent) Reconfigure(cfg agentapi.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.cfgID = uuid.NewString()
	a.limiter = newLimiter(cfg)
	a.mu.Unlock()
	a.logger.Info("configuration applied", slog.String("configID", a.cfgID))
}

// snapshot returns the configuration and limiter a single request evaluates
// against.
func (a *Agent) snapshot() (agentapi.Config, *ratelimit.Limiter) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg, a.limiter
}

// OnConfigure implements [agentapi.Handler].
func (a *Agent) OnConfigure(_ context.Context, event agentapi.ConfigureEvent) *agentapi.Response {
	a.logger.Info("configure event received", slog.String("agentID", event.AgentID))
	a.Reconfigure(agentapi.ParseConfig(event.Config))
	return agentapi.DefaultAllow()
}

// OnRequestHeaders implements [agentapi.Handler]. It detects the provider
// and opens the correlation state.
func (a *Agent) OnRequestHeaders(_ context.Context, event agentapi.RequestHeadersEvent) *agentapi.Response {
	detected := provider.Detect(event.URI, event.NormalizedHeaders())
	a.logger.Debug("request headers received",
		slog.String("correlationID", event.Metadata.CorrelationID),
		slog.String("uri", event.URI),
		slog.String("provider", detected.String()))

	a.reqMu.Lock()
	a.requests[event.Metadata.CorrelationID] = &requestState{
		provider: detected,
		clientIP: event.Metadata.ClientIP,
	}
	a.reqMu.Unlock()
	return agentapi.DefaultAllow()
}

// OnRequestBodyChunk implements [agentapi.Handler]. Chunks accumulate until
// the terminal one, which extracts the state and evaluates the pipeline. A
// chunk for an unknown correlation is allowed with no state change, and a
// chunk that fails base64 decoding is dropped.
func (a *Agent) OnRequestBodyChunk(ctx context.Context, event agentapi.RequestBodyChunkEvent) *agentapi.Response {
	a.reqMu.Lock()
	state, ok := a.requests[event.CorrelationID]
	if !ok {
		a.reqMu.Unlock()
		return agentapi.DefaultAllow()
	}

	if decoded, err := base64.StdEncoding.DecodeString(event.Data); err == nil {
		state.chunks = append(state.chunks, decoded)
	} else {
		a.logger.Warn("dropping undecodable body chunk",
			slog.String("correlationID", event.CorrelationID),
			slog.Any("chunkIndex", event.ChunkIndex))
	}

	if !event.IsLast {
		a.reqMu.Unlock()
		return agentapi.DefaultAllow()
	}

	delete(a.requests, event.CorrelationID)
	a.reqMu.Unlock()

	a.logger.Debug("processing complete request body",
		slog.String("correlationID", event.CorrelationID),
		slog.Int("chunks", len(state.chunks)))
	return a.processBody(ctx, state)
}

// processBody evaluates the accumulated body against a config snapshot.
func (a *Agent) processBody(ctx context.Context, state *requestState) *agentapi.Response {
	cfg, limiter := a.snapshot()

	var size int
	for _, chunk := range state.chunks {
		size += len(chunk)
	}
	full := make([]byte, 0, size)
	for _, chunk := range state.chunks {
		full = append(full, chunk...)
	}

	if !utf8.Valid(full) {
		a.logger.Warn("invalid UTF-8 in request body")
		if cfg.FailOpen {
			return agentapi.DefaultAllow().WithAudit(agentapi.AuditMetadata{
				Tags:        []string{"ai-gateway", "error"},
				ReasonCodes: []string{"INVALID_UTF8"},
			})
		}
		return agentapi.BlockWith(400, "Invalid request body").WithAudit(agentapi.AuditMetadata{
			Tags:        []string{"ai-gateway", "blocked"},
			ReasonCodes: []string{"INVALID_UTF8"},
		})
	}
	body := string(full)

	// Early schema check. Detect-only mode logs the failure and proceeds;
	// the annotation header comes from the later check.
	if cfg.SchemaValidationEnabled {
		if validation := schema.Validate(state.provider, body); !validation.Valid {
			joined := strings.Join(validation.Errors, "; ")
			a.logger.Warn("schema validation failed", slog.String("errors", joined))
			if cfg.BlockMode {
				a.metrics.RecordBlocked(ctx, state.provider.String(), "SCHEMA_VALIDATION_FAILED")
				return agentapi.BlockWith(400, "Schema validation failed").
					AddResponseHeader(headerSchemaValid, "false").
					AddResponseHeader(headerSchemaErrors, joined).
					WithAudit(agentapi.AuditMetadata{
						Tags:        []string{"ai-gateway", "blocked", "schema-invalid"},
						ReasonCodes: []string{"SCHEMA_VALIDATION_FAILED"},
					})
			}
		}
	}

	req, ok := provider.Parse(state.provider, body)
	if !ok {
		a.logger.Debug("not a recognized AI request format")
		return agentapi.DefaultAllow().WithAudit(agentapi.AuditMetadata{
			Tags: []string{"ai-gateway"},
		})
	}

	return a.checkRequest(ctx, cfg, limiter, req, state.provider, body, state.clientIP)
}

// checkRequest runs the ordered policy checks over a parsed request.
//
// Allowlist and token-ceiling violations become a pending block that commits
// at the end; a rate-limit denial returns immediately. Detectors run after
// the limiter and never overwrite an earlier pending block reason, though
// they still contribute their audit codes. PII annotates even when another
// check already decided the block.
func (a *Agent) checkRequest(ctx context.Context, cfg agentapi.Config, limiter *ratelimit.Limiter,
	req *provider.Request, prov provider.Provider, body, clientIP string,
) *agentapi.Response {
	resp := agentapi.DefaultAllow()
	blocked := false
	blockReason := ""
	tags := []string{"ai-gateway"}
	var reasonCodes []string

	a.metrics.RecordRequest(ctx, prov.String(), req.Model)

	resp.AddRequestHeader(headerProvider, prov.String())
	tags = append(tags, "provider:"+prov.String())

	if req.Model != "" {
		resp.AddRequestHeader(headerModel, req.Model)
		tags = append(tags, "model:"+req.Model)
	}

	if cfg.SchemaValidationEnabled {
		validation := schema.Validate(prov, body)
		resp.AddRequestHeader(headerSchemaValid, strconv.FormatBool(validation.Valid))
		if validation.Valid {
			tags = append(tags, "schema-valid")
		}
	}

	if len(cfg.AllowedModels) > 0 && req.Model != "" {
		allowed := false
		for _, m := range cfg.AllowedModels {
			if strings.Contains(req.Model, m) || strings.Contains(m, req.Model) {
				allowed = true
				break
			}
		}
		if !allowed {
			blocked = true
			blockReason = "model-not-allowed"
			reasonCodes = append(reasonCodes, "MODEL_NOT_ALLOWED")
			a.logger.Info("model not in allowlist", slog.String("model", req.Model))
		}
	}

	if cfg.MaxTokensPerRequest > 0 && req.MaxTokens > cfg.MaxTokensPerRequest {
		blocked = true
		blockReason = "token-limit-exceeded"
		reasonCodes = append(reasonCodes, "TOKEN_LIMIT_EXCEEDED")
		a.logger.Info("token limit exceeded",
			slog.Any("requested", req.MaxTokens),
			slog.Any("max", cfg.MaxTokensPerRequest))
	}

	estimatedTokens := req.EstimateTokens()
	resp.AddRequestHeader(headerTokensEstimated, strconv.FormatUint(uint64(estimatedTokens), 10))
	a.metrics.RecordTokensEstimated(ctx, prov.String(), estimatedTokens)

	if cfg.AddCostHeaders {
		cost := EstimateCost(prov, req.Model, estimatedTokens)
		resp.AddRequestHeader(headerCostEstimated, fmt.Sprintf("%.6f", cost))
	}

	if cfg.RateLimitRequests > 0 || cfg.RateLimitTokens > 0 {
		result := limiter.CheckAndRecord(clientIP, estimatedTokens)

		if cfg.RateLimitRequests > 0 {
			resp.AddResponseHeader(headerRateLimitRequests, formatUint32(result.RequestLimit))
			resp.AddResponseHeader(headerRateLimitRemainingRequests, formatUint32(saturatingSub(result.RequestLimit, result.RequestCount)))
		}
		if cfg.RateLimitTokens > 0 {
			resp.AddResponseHeader(headerRateLimitTokens, formatUint32(result.TokenLimit))
			resp.AddResponseHeader(headerRateLimitRemainingTokens, formatUint32(saturatingSub(result.TokenLimit, result.TokenCount)))
		}
		resp.AddResponseHeader(headerRateLimitReset, strconv.FormatUint(result.ResetSeconds, 10))

		if !result.Allowed {
			a.logger.Warn("rate limit exceeded",
				slog.String("clientIP", clientIP),
				slog.String("limitType", string(result.Exceeded)))
			tags = append(tags, "rate-limited")
			reasonCodes = append(reasonCodes, "RATE_LIMIT_EXCEEDED")
			a.metrics.RecordBlocked(ctx, prov.String(), "RATE_LIMIT_EXCEEDED")

			reset := strconv.FormatUint(result.ResetSeconds, 10)
			return agentapi.BlockWith(429, "Too Many Requests").
				AddResponseHeader(headerRateLimitRequests, formatUint32(result.RequestLimit)).
				AddResponseHeader(headerRateLimitRemainingRequests, "0").
				AddResponseHeader(headerRateLimitReset, reset).
				AddResponseHeader(headerRetryAfter, reset).
				WithAudit(agentapi.AuditMetadata{Tags: tags, ReasonCodes: reasonCodes})
		}
	}

	allContent := req.AllContent()

	if cfg.PromptInjectionEnabled && !blocked {
		if label, found := a.injection.DetectAny(allContent); found {
			a.logger.Warn("prompt injection detected", slog.String("label", label))
			tags = append(tags, "detected:prompt-injection")
			reasonCodes = append(reasonCodes, "PROMPT_INJECTION")
			a.metrics.RecordDetection(ctx, "prompt-injection")
			if cfg.BlockMode {
				blocked = true
				blockReason = label
			}
		}
	}

	if cfg.JailbreakDetectionEnabled && !blocked {
		if label, found := a.jailbreak.DetectAny(allContent); found {
			a.logger.Warn("jailbreak attempt detected", slog.String("label", label))
			tags = append(tags, "detected:jailbreak")
			reasonCodes = append(reasonCodes, "JAILBREAK_ATTEMPT")
			a.metrics.RecordDetection(ctx, "jailbreak")
			if cfg.BlockMode {
				blocked = true
				blockReason = label
			}
		}
	}

	if cfg.PIIDetectionEnabled {
		piiTypes := a.detectPIITypes(allContent)
		if len(piiTypes) > 0 {
			piiStr := joinPIITypes(piiTypes)
			a.logger.Warn("PII detected", slog.String("types", piiStr))
			resp.AddRequestHeader(headerPIIDetected, piiStr)
			tags = append(tags, "pii:"+piiStr)
			reasonCodes = append(reasonCodes, "PII_DETECTED")
			a.metrics.RecordDetection(ctx, "pii")
			if cfg.PIIAction == agentapi.PIIActionBlock && cfg.BlockMode && !blocked {
				blocked = true
				blockReason = "pii-detected:" + piiStr
			}
		}
	}

	if blocked {
		tags = append(tags, "blocked")
		a.logger.Info("request blocked", slog.String("reason", blockReason))
		a.metrics.RecordBlocked(ctx, prov.String(), reasonCodes[0])
		// The annotation headers accumulated so far stay on the verdict so
		// upstream audit sees them alongside the block.
		resp.Block = &agentapi.BlockAction{Status: 403, Body: "Forbidden"}
		resp.AddResponseHeader(headerBlocked, "true")
		resp.AddResponseHeader(headerBlockedReason, blockReason)
	}
	return resp.WithAudit(agentapi.AuditMetadata{Tags: tags, ReasonCodes: reasonCodes})
}

// detectPIITypes merges the PII types found across all content strings,
// deduplicated and sorted by type ordinal.
func (a *Agent) detectPIITypes(allContent []string) []detection.PIIType {
	var all []detection.PIIType
	for _, content := range allContent {
		all = append(all, a.pii.DetectTypes(content)...)
	}
	if len(all) == 0 {
		return nil
	}
	seen := make(map[detection.PIIType]bool, len(all))
	var merged []detection.PIIType
	for _, t := range all {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	return merged
}

func joinPIITypes(types []detection.PIIType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}

func formatUint32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func saturatingSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}
