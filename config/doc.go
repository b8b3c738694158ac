// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config provides the gateway's bootstrap configuration.

# Overview

config loads the handful of settings a process needs before it can open
its database: listen addresses, the SQLite file path, session TTLs and
logging. Everything an operator might want to change without a restart
(active provider, request timeout, CORS origin, log level) instead lives
in the settings table behind the control plane's REST surface, so this
package intentionally stays small and has no hot-reload machinery of its
own.

# Core types

  - Config: the top-level aggregate (Server, Gateway, ControlPlane,
    Database, Session, Streaming, Log, Telemetry)
  - Loader: Builder-style loader chaining config path, env prefix and
    validators

# Precedence

defaults -> YAML file -> GATEWAYD_-prefixed env vars -> the flat env vars
named in the environment and CLI surface (PORT, API_PORT, CORS_ORIGIN,
DATABASE_PATH, SESSION_TIMEOUT_MS, SESSION_CLEANUP_INTERVAL_MS,
REQUEST_TIMEOUT_MS, LOG_LEVEL).

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("GATEWAYD").
		Load()
*/
package config
