// Package pg provides the PostgreSQL collaborator plumbing: an env-tagged
// Config, pooled connection setup with retry, goose-based schema migrations
// and helpers for classifying pgx errors.
package pg
