// Package storage keeps the dispatch history.
//
// Backends:
//   - "file": JSON Lines, rewritten in place when pruned
//   - "sqlite": pure-Go SQLite database file
//   - "postgres": a pgx connection pool, for shared deployments
//
// An empty driver or "none" disables history; Open then returns (nil, nil).
package storage
