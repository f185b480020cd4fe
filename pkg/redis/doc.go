// Package redis provides the Redis collaborator plumbing: an env-tagged
// Config and client setup with retry, used by the Redis-backed quota store.
package redis
