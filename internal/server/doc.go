// Package server hosts the Fiber HTTP service, the request middleware chain
// and the shared upstream HTTP client. It routes /ipfs/* to an injected
// ContentHandler and leaves /-/ diagnostics to the routes subpackage, so keep
// exports narrow and accept explicit dependencies.
package server
