// Package logging provides a structured logging system for conftree with
// subsystem-tagged output and level filtering.
//
// This package is built on Go's standard slog package. Every log entry
// carries a subsystem identifier so that output from the merge engine, the
// include resolver, the processor, and the reload manager can be filtered
// apart in a combined stream.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("Processor", "Processing configuration file '%s'", path)
//	logging.Error("Snapshot", err, "Couldn't save preprocessed config to %s", path)
//
// Library packages never initialize logging themselves; the embedding
// application (or the conftree CLI) calls Init once at startup.
package logging
