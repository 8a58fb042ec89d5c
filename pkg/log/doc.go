/*
Package log provides structured logging for the coordinator using zerolog.

The global Logger is initialized once via Init and is safe for the
single-threaded event loop and any background goroutines (timers, the
metrics collector) to use concurrently. Component loggers are created
with WithComponent so that every log line can be filtered by the part
of the coordinator that emitted it (admission, phase, vpid, lookup,
restartscript, ...).

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	phaseLog := log.WithComponent("phase")
	phaseLog.Info().Str("edge", "SUSPENDED->FD_LEADER_ELECTION").Msg("broadcast")
*/
package log
