// Package runner drives one archive run: it resolves credentials, logs in,
// pages through the liked posts or an author feed, and hands the accepted
// posts to the archiver. It replaces the per-command orchestration that would
// otherwise live in the CLI.
package runner
