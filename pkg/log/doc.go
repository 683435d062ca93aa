/*
Package log provides structured logging for superdeploy using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with context-specific child loggers, configurable log levels, and
helper functions for common logging patterns. All logs include timestamps
and support filtering by severity level.

# Configuration

	// JSON output (server mode)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	// Console output (interactive CLI)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Output defaults to stderr so rendered plans and status tables can go to
stdout untouched.

# Context Loggers

Child loggers attach the fields that identify a deployment:

	orchLog := log.WithComponent("orchestrator")
	runLog := log.WithRun(run.ID)
	unitLog := log.WithUnit("addon/postgres")

	unitLog.Info().Str("outcome", "updated").Msg("apply finished")

# Usage

	log.Info("configuration loaded")
	log.Errorf("apply failed", err)

	log.Logger.Info().
		Str("project", "demo").
		Str("environment", "prod").
		Int("steps", 5).
		Msg("plan built")

# Integration Points

Every package logs through this one. The orchestrator additionally mirrors
step lifecycle lines into the event broker so the HTTP log stream and the
persistent run record agree with what was logged.

Never log secret values; configuration trees are logged by hash only.
*/
package log
