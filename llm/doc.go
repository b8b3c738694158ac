// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides the unified provider abstraction the gateway dispatches
every chat-completions request through.

# Overview

A Provider is a configured backend that can answer chat-completions: it has
a type (local-openai-compatible, web-chat-bridge, or hosted-openai-compatible)
determining its adapter and required config keys, and exposes a uniform
capability set regardless of type.

# Provider Interface

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

Every recognised provider type is served by the single concrete
implementation in llm/providers/openaicompat, configured differently per
type by providerfactory.Factory.Build; see that package's doc comment for
why a shared adapter beats one implementation per type here.

# Message and Error Types

ChatRequest, ChatResponse, StreamChunk, and Model are this package's wire
shapes; Message, Role, ToolCall, ToolSchema, ToolResult, TokenUsage, Error,
and ErrorCode are re-exported from package types, which the session manager,
routing, and storage packages also depend on directly — keeping one
canonical definition of each rather than a copy per package.

Use IsRetryable to check whether an *Error the provider returned is worth
retrying:

	if llm.IsRetryable(err) {
	    // the caller, or providerfactory's retry wrapper, may try again
	}

providerfactory.wrapRetry is what actually acts on that flag for every
provider the registry builds; see llm/retry for the backoff policy it
applies.

# Streaming

	stream, err := provider.Stream(ctx, &llm.ChatRequest{
	    Model:    "gpt-4o",
	    Messages: messages,
	})
	if err != nil {
	    log.Fatal(err)
	}

	for chunk := range stream {
	    if chunk.Err != nil {
	        log.Printf("error: %v", chunk.Err)
	        break
	    }
	    fmt.Print(chunk.Delta.Content)
	}

# Tool Calling

Tool definitions are normalised (llm/middleware.ToolNormalizer) before
dispatch to every provider, regardless of type, so callers can pass the
OpenAI tool shape and trust it reaches the upstream API in the form that
API expects:

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model:    "gpt-4o",
	    Messages: messages,
	    Tools: []llm.ToolSchema{
	        {Name: "get_weather", Description: "Get current weather for a location"},
	    },
	})

# Credential Override

WithCredentialOverride/CredentialOverrideFromContext let a single request
carry a per-call API key override (e.g. a BYOK header) without threading it
through every function signature; openaicompat.Provider.resolveAPIKey checks
the context before falling back to its configured key.

See the subpackages for additional functionality:
  - llm/middleware: tool-definition normalisation and request rewriting
  - llm/providers: OpenAI-compatible wire types and HTTP helpers shared
    across provider configurations
  - llm/providers/openaicompat: the concrete Provider implementation
  - llm/retry: exponential-backoff retry policy, wired by providerfactory
  - llm/streaming: bounded producer/consumer buffering for SSE relay
*/
package llm
