// Package presence keeps the set of identities that currently have a bound
// session.
//
// The Registry is created once per process and handed to the session router;
// there is no package-level instance. It starts empty on every process start
// and is never persisted. Join and Leave are idempotent, and Snapshot returns a
// copy ordered by join time so presence broadcasts are deterministic.
//
// A Registry only sees the sessions of its own process. Running several
// gateway processes gives each its own view of who is online.
package presence
