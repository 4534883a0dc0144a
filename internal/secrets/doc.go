// Package secrets redacts credentials from text before it leaves the
// process.
//
// Upstream providers sometimes quote the API key they rejected in their
// error messages. Errors returned to HTTP and MCP clients go through a
// Scrubber first.
package secrets
