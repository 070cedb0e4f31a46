/*
Package log provides structured logging for Corral using zerolog.

The package wraps zerolog behind a global Logger initialized once via
Init, with component-scoped child loggers so every subsystem (storage,
reconciler, ports, docker, reservations) tags its output consistently.
Console output is the default for interactive use; JSON output is meant
for production aggregation.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	recLog := log.WithComponent("reconciler")
	recLog.Info().Int64("reservation_id", 42).Msg("container started")

Contextual helpers add the identifiers that matter in this domain:

	log.WithComputer(3)          // computer_id=3
	log.WithReservation(42)      // reservation_id=42
	log.WithContainer("reservation-42-ubuntu-01_02_2026_10_00_00")

Never log SSH passwords or login tokens; pass them around as values and
keep them out of structured fields.
*/
package log
