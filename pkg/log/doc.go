/*
Package log provides structured logging for PANfm built on zerolog.

All processes initialize the global logger once at startup and derive child
loggers per component. Collector jobs additionally tag entries with the job
name and device ID so a single device's poll history can be filtered out of
the combined stream.

# Usage

Initialize once in main:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Derive component loggers where work happens:

	logger := log.WithComponent("collector")
	logger.Info().Str("device_id", dev.ID).Msg("poll complete")

Console output (JSONOutput: false) is intended for interactive runs;
deployments log JSON to stdout.
*/
package log
