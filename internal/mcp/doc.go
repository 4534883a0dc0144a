// Package mcp exposes vidqa over the Model Context Protocol.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the ingest and chat services directly. Tools cover loading
// videos, asking questions, reading thread history and checking status.
// Error text is scrubbed for credentials before it reaches the client.
package mcp
