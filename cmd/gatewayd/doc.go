// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main is the entry point for every process role of the LLM
provider gateway: the gateway itself (G), the control plane (C), and the
web-chat bridge (W).

# Subcommands

  - gateway       — run G: the OpenAI-compatible front end
  - control-plane — run C: REST control surface, push channel, and
    supervisor for G and W as child processes
  - webchat       — run W: the web-chat bridge, standalone
  - migrate       — apply/inspect database migrations
  - version       — print build metadata
  - health        — probe a running instance's /health endpoint

Each role loads the same config.Config and reads only the sections it
needs; control-plane additionally resolves its own executable path to
spawn G and W as children.
*/
package main
