// Package logging provides structured logging for the preprocessing pipeline.
//
// # Features
//
//   - JSON records via log/slog
//   - Levels TRACE, DEBUG, INFO, WARN, ERROR
//   - Component loggers with their own runtime-adjustable level
//   - Size-based file rotation with optional gzip compression
//
// # Component Levels
//
// Each worker logs through a [Logger.Component] child. An operator can make a
// single worker more verbose without touching the rest of the process:
//
//	root, _ := logging.NewLogger(logging.Config{Level: "INFO"})
//	w1 := root.Component("preprocessing worker").WithWorker(1)
//	w1.IncreaseLevel() // worker 1 now logs DEBUG
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Loggers sharing an
// output write whole records with a single Write call; [RotatingWriter]
// serializes writes and rotation with a mutex.
package logging
