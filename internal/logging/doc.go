// Package logging sets up structured, rotating file logging for the
// indexing CLI. When --debug is set, JSON logs are written to
// ~/.semindex/logs/ for diagnosing orchestrator/store/watcher behavior.
//
// By default (without --debug) logging stays minimal and goes to stderr
// only.
package logging
