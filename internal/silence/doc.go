// Package silence implements group-chat silencing: it rewrites a chat's
// default member permissions to block messaging, schedules the reversal for
// timed silences, and keeps moderators reminded about indefinite ones.
package silence
