// Package mysql persists the data the context assembler reads: tool action
// history, user preferences, the project registry and content quality scores.
// It runs on MySQL in production and on SQLite for single-node deployments and
// tests, with embedded per-dialect schema migrations.
package mysql
