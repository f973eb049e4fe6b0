// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package version holds the build version stamped into release binaries.
package version

// Version is overwritten at build time via
// -ldflags "-X github.com/sentinelproxy/ai-gateway-agent/internal/version.Version=vX.Y.Z".
var Version = "dev"
