// Package storage keeps the daemon's task run history.
//
// It records one RunRecord per finished, failed or retired execution and
// answers "what ran recently". Tasks themselves are never persisted; a
// restarted daemon registers its tasks again from config.
//
// Drivers:
//   - "file": JSON Lines over an afero.Fs
//   - "sqlite": modernc.org/sqlite database file
//   - "none": discards everything
package storage
