// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package server exposes an agent handler over the newline-delimited JSON
// event protocol the data plane speaks. One connection carries a stream of
// event envelopes; every envelope is answered with exactly one verdict line.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/sentinelproxy/ai-gateway-agent/agentapi"
)

// maxEventBytes caps a single event line. Body chunks arrive base64-encoded
// inside the envelope, so this bounds the accepted chunk size.
const maxEventBytes = 64 << 20

const (
	eventTypeConfigure        = "configure"
	eventTypeRequestHeaders   = "request_headers"
	eventTypeRequestBodyChunk = "request_body_chunk"
)

// envelope is one event line. Type selects which payload field is set.
type envelope struct {
	Type             string                          `json:"type"`
	Configure        *agentapi.ConfigureEvent        `json:"configure,omitempty"`
	RequestHeaders   *agentapi.RequestHeadersEvent   `json:"request_headers,omitempty"`
	RequestBodyChunk *agentapi.RequestBodyChunkEvent `json:"request_body_chunk,omitempty"`
}

// Server accepts data plane connections and dispatches their event streams
// to a handler.
type Server struct {
	handler agentapi.Handler
	logger  *slog.Logger
}

// New creates a server dispatching to the given handler.
func New(handler agentapi.Handler, logger *slog.Logger) *Server {
	return &Server{handler: handler, logger: logger}
}

// Serve accepts connections on the listener until ctx is canceled, handling
// each connection on its own goroutine. It closes the listener and waits for
// in-flight connections before returning.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn reads event lines until EOF or cancellation, answering each
// with one verdict line. A line that cannot be decoded, or an envelope of an
// unknown type, is answered with a default allow so a protocol hiccup never
// stalls the data plane.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxEventBytes)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		resp := s.dispatch(ctx, scanner.Bytes())
		if err := encoder.Encode(resp); err != nil {
			s.logger.Warn("failed to write verdict", slog.String("error", err.Error()))
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("connection read failed", slog.String("error", err.Error()))
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte) *agentapi.Response {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		s.logger.Warn("dropping undecodable event", slog.String("error", err.Error()))
		return agentapi.DefaultAllow()
	}

	switch env.Type {
	case eventTypeConfigure:
		if env.Configure != nil {
			return s.handler.OnConfigure(ctx, *env.Configure)
		}
	case eventTypeRequestHeaders:
		if env.RequestHeaders != nil {
			return s.handler.OnRequestHeaders(ctx, *env.RequestHeaders)
		}
	case eventTypeRequestBodyChunk:
		if env.RequestBodyChunk != nil {
			return s.handler.OnRequestBodyChunk(ctx, *env.RequestBodyChunk)
		}
	default:
		s.logger.Warn("ignoring unknown event type", slog.String("type", env.Type))
	}
	return agentapi.DefaultAllow()
}
