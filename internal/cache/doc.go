// Package cache defines the disk-backed store that maps a requested CID path
// to a pair of files under StoragePath: <key>.cache holds the raw bytes and
// <key>.content-type holds the MIME type as a single UTF-8 line. Entries are
// immutable once written; there is no eviction or delete path. Writes go
// through temp file + rename so concurrent readers never observe a partially
// written file, and an entry only counts as present when both files exist.
// The gateway resolver depends on this package to serve cache hits and to
// persist provider fetches without duplicating filesystem logic.
package cache
