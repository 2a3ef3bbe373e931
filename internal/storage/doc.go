// Package storage persists the moderation state that must survive restarts:
// active silences (with their previous chat permissions and pending expiry)
// and the moderation audit log.
//
// Two drivers are provided: "file" (dependency-free JSON snapshot + JSONL
// audit) and "sqlite" (single-writer WAL database).
package storage
