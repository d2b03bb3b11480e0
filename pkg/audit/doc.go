// Package audit persists integrity-tagged attempt and event records. The
// Recorder keeps a bounded in-memory history for fast status queries and
// fans every record out to an optional durable store backed by SQLite.
package audit
