// Package connection provides connection management for
// diaryx-relay-cli: the HTTP client the admin commands talk to the
// relay's admin API with, plus the named-connection bookkeeping.
package connection
