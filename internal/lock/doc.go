// Package lock provides named mutual exclusion over arbitrary resource ids.
//
// Locks live in a registry keyed by (namespace, resource id). They are
// created lazily on first use and reference counted, so ids that churn over
// the process lifetime do not grow the registry without bound. A guarded
// operation either runs exclusively, is skipped, fails with
// *LockedResourceError, or waits, depending on the requested Mode.
package lock
