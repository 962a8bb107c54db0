// Package storage persists scraper run history so restarts do not lose
// the recent record of what ran and how it went.
//
// It currently supports:
//   - Append-only run records (one per scraper execution)
//   - Recent-run queries for the history command
package storage
