// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package mainlib holds the entry point of the AI gateway inspection agent,
// exposed so embedders can build their own binary around it.
package mainlib

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelproxy/ai-gateway-agent/agentapi"
	"github.com/sentinelproxy/ai-gateway-agent/internal/agent"
	"github.com/sentinelproxy/ai-gateway-agent/internal/metrics"
	"github.com/sentinelproxy/ai-gateway-agent/internal/server"
	"github.com/sentinelproxy/ai-gateway-agent/internal/version"
)

// agentFlags is the struct that holds the flags passed to the agent.
type agentFlags struct {
	agentAddr string     // address the agent listens on for data plane connections.
	adminPort int        // HTTP port for the admin server (metrics and health).
	logLevel  slog.Level // log level for the agent.

	// Policy flags mirror the configure-event document and form the initial
	// configuration until the data plane delivers one.
	promptInjection     bool
	piiDetection        bool
	piiAction           string
	jailbreakDetection  bool
	schemaValidation    bool
	allowedModels       string // comma-separated, empty allows all.
	maxTokensPerRequest uint
	addCostHeaders      bool
	blockMode           bool
	failOpen            bool
	rateLimitRequests   uint
	rateLimitTokens     uint
}

// parseAndValidateFlags parses and validates the flags passed to the agent.
func parseAndValidateFlags(args []string) (agentFlags, error) {
	var (
		flags agentFlags
		errs  []error
		fs    = flag.NewFlagSet("AI Gateway Agent", flag.ContinueOnError)
	)

	fs.StringVar(&flags.agentAddr,
		"agentAddr",
		":1071",
		"address the agent listens on for data plane connections. For example, :1071 or unix:///tmp/ai-gateway-agent.sock.",
	)
	fs.IntVar(&flags.adminPort, "adminPort", 1072, "HTTP port for the admin server (serves /metrics and /health endpoints).")
	logLevelPtr := fs.String(
		"logLevel",
		"info",
		"log level for the agent. One of 'debug', 'info', 'warn', or 'error'.",
	)
	fs.BoolVar(&flags.promptInjection, "promptInjection", true, "enable prompt injection detection.")
	fs.BoolVar(&flags.piiDetection, "piiDetection", true, "enable PII detection.")
	fs.StringVar(&flags.piiAction, "piiAction", "log", "action on PII detection. One of 'block', 'redact', or 'log'.")
	fs.BoolVar(&flags.jailbreakDetection, "jailbreakDetection", true, "enable jailbreak detection.")
	fs.BoolVar(&flags.schemaValidation, "schemaValidation", false, "enable JSON schema validation of request bodies.")
	fs.StringVar(&flags.allowedModels, "allowedModels", "", "comma-separated model allowlist. Empty allows all models.")
	fs.UintVar(&flags.maxTokensPerRequest, "maxTokens", 0, "maximum client-requested max_tokens per request. 0 means no ceiling.")
	fs.BoolVar(&flags.addCostHeaders, "addCostHeaders", true, "emit estimated-cost request headers.")
	fs.BoolVar(&flags.blockMode, "blockMode", true, "block on detections. When false the agent runs detect-only.")
	fs.BoolVar(&flags.failOpen, "failOpen", false, "allow requests whose body cannot be decoded instead of blocking.")
	fs.UintVar(&flags.rateLimitRequests, "rateLimitRequests", 0, "requests per minute per client. 0 means unlimited.")
	fs.UintVar(&flags.rateLimitTokens, "rateLimitTokens", 0, "estimated tokens per minute per client. 0 means unlimited.")

	if err := fs.Parse(args); err != nil {
		return agentFlags{}, fmt.Errorf("failed to parse agentFlags: %w", err)
	}

	if err := flags.logLevel.UnmarshalText([]byte(*logLevelPtr)); err != nil {
		errs = append(errs, fmt.Errorf("failed to unmarshal log level: %w", err))
	}
	switch flags.piiAction {
	case "block", "redact", "log":
	default:
		errs = append(errs, fmt.Errorf("invalid piiAction %q: must be one of 'block', 'redact', or 'log'", flags.piiAction))
	}

	return flags, errors.Join(errs...)
}

// config assembles the initial policy configuration from the flags.
func (f *agentFlags) config() agentapi.Config {
	cfg := agentapi.DefaultConfig()
	cfg.PromptInjectionEnabled = f.promptInjection
	cfg.PIIDetectionEnabled = f.piiDetection
	cfg.PIIAction = agentapi.PIIAction(f.piiAction)
	cfg.JailbreakDetectionEnabled = f.jailbreakDetection
	cfg.SchemaValidationEnabled = f.schemaValidation
	cfg.MaxTokensPerRequest = uint32(f.maxTokensPerRequest) //nolint:gosec // flag-bounded.
	cfg.AddCostHeaders = f.addCostHeaders
	cfg.BlockMode = f.blockMode
	cfg.FailOpen = f.failOpen
	cfg.RateLimitRequests = uint32(f.rateLimitRequests) //nolint:gosec // flag-bounded.
	cfg.RateLimitTokens = uint32(f.rateLimitTokens)     //nolint:gosec // flag-bounded.
	if f.allowedModels != "" {
		for _, m := range strings.Split(f.allowedModels, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.AllowedModels = append(cfg.AllowedModels, m)
			}
		}
	}
	return cfg
}

// Main is the agent entry point.
//
//   - ctx is the context for the agent; cancellation triggers graceful shutdown.
//   - args are the command line arguments without the program name.
//   - stderr is the writer the agent logs to.
//
// This returns an error if the agent fails to start, or nil when ctx is
// canceled.
func Main(ctx context.Context, args []string, stderr io.Writer) (err error) {
	defer func() {
		// Don't err the caller about normal shutdown scenarios.
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}()
	flags, err := parseAndValidateFlags(args)
	if err != nil {
		return fmt.Errorf("failed to parse and validate agentFlags: %w", err)
	}

	l := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: flags.logLevel}))

	l.Info("starting AI gateway agent",
		slog.String("version", version.Version),
		slog.String("address", flags.agentAddr),
	)

	network, address := listenAddress(flags.agentAddr)
	agentLis, err := listen(ctx, "agent", network, address)
	if err != nil {
		return err
	}
	if network == "unix" {
		// Change the permission of the UDS to 0775 so that the proxy process
		// (the same group) can access it.
		if err = os.Chmod(address, 0o775); err != nil {
			return fmt.Errorf("failed to change UDS permission: %w", err)
		}
	}

	adminLis, err := listen(ctx, "admin server", "tcp", fmt.Sprintf(":%d", flags.adminPort))
	if err != nil {
		return err
	}

	// Prometheus registry and reader which automatically converts attributes
	// to Prometheus-compatible format (e.g. dots to underscores).
	promRegistry := prometheus.NewRegistry()
	promReader, err := otelprom.New(otelprom.WithRegisterer(promRegistry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus reader: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promReader))
	meter := meterProvider.Meter("ai-gateway-agent")

	handler := agent.New(flags.config(), l, metrics.NewAgentMetrics(meter))
	srv := server.New(handler, l)

	adminServer := startAdminServer(adminLis, l, promRegistry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Info("AI Gateway Agent is ready")
		return srv.Serve(gctx, agentLis)
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			l.Error("Failed to shutdown admin server gracefully", "error", err)
		}
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			l.Error("Failed to shutdown metrics gracefully", "error", err)
		}
		return gctx.Err()
	})
	return g.Wait()
}

func listen(ctx context.Context, name, network, address string) (net.Listener, error) {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for %s: %w", name, err)
	}
	return lis, nil
}

// listenAddress returns the network and address for the given address flag.
func listenAddress(addrFlag string) (string, string) {
	if after, ok := strings.CutPrefix(addrFlag, "unix://"); ok {
		_ = os.Remove(after) // Remove the socket file if it exists.
		return "unix", after
	}
	return "tcp", addrFlag
}
