// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package middleware provides request-rewriting hooks that run on an
llm.ChatRequest before it reaches a provider's HTTP call.

# Overview

RewriterChain runs an ordered list of RequestRewriter implementations,
stopping at the first error. openaicompat.Provider builds one chain per
instance (tool normalisation, then empty-tools cleanup) and runs it at the
top of both Completion and Stream.

# Core Types

  - RequestRewriter: Rewrite(ctx, *llm.ChatRequest) (*llm.ChatRequest, error) plus Name().
  - RewriterChain: ordered RequestRewriter execution with AddRewriter for
    dynamic extension.

# Rewriters

  - ToolNormalizer rewrites each tool definition to the OpenAI
    {type:"function", function:{name, description, parameters}} shape,
    filling a default description when one is missing and stripping any
    "strict" field, per spec §4.1's tool normalisation rule. Idempotent:
    normalising twice equals normalising once (gopter property-tested).
  - EmptyToolsCleaner clears ToolChoice when Tools is nil or empty, so
    upstreams that reject tool_choice without tools don't see one.

HTTP-layer cross-cutting concerns (logging, recovery, timeouts, metrics,
tracing, CORS) live in internal/httpmw instead, since they apply to every
handler, not just the chat-completions call path this package rewrites.
*/
package middleware
