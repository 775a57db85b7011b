/*
Package log provides structured logging for raftnode using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Usage

Initializing the logger:

	import "github.com/cuemby/raftnode/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("election timeout elapsed")
	log.Debug("heartbeat sent")
	log.Warn("append entries rejected")
	log.Error("persist term failed")

Context loggers:

	termLog := log.WithTerm(currentTerm)
	termLog.Info().Msg("became candidate")

	roleLog := log.WithRole("leader").With().Uint64("node_id", uint64(id)).Logger()
	roleLog.Info().Msg("sent heartbeat")

# Integration Points

This package integrates with:

  - pkg/agent: logs failed ticks and failed RPC-response handling from its
    event loop
  - cmd/raftnode: initializes the logger and logs startup, shutdown, and
    metrics server failures

pkg/raft and pkg/transport do not log.
*/
package log
