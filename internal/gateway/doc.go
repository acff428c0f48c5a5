// Package gateway turns a CID path into a response: it serves cached bytes,
// falls back to the provider chain on a miss, persists what it fetched and
// answers byte-range requests over either source with identical headers.
package gateway
