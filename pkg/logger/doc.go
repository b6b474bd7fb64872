// Package logger provides the structured logging interface used across the archiver.
//
// It wraps zerolog behind a small Logger interface so components can take a
// logger as a dependency and tests can substitute NewTestLogger or NewNopLogger.
// Every logger created by New carries a run_id field, which makes it possible
// to pick the lines of a single archive run out of a shared log file.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	logger.WithField("actor", handle).Info("Fetching liked posts")
package logger
