// Package mcp implements a Model Context Protocol (MCP) server over the
// copilot knowledge base.
//
// The server exposes the tenant's embedded knowledge to MCP clients (IDE
// assistants, desktop agents, the Genkit CLI) so external models can ground
// their answers in the same corpus the chat API uses.
//
// # Architecture
//
//	MCP Client (IDE, desktop agent)
//	     |
//	     | (MCP protocol over stdio)
//	     v
//	Server (MCP SDK)
//	     |
//	     +-- knowledge_search — semantic similarity search
//	     +-- knowledge_add    — embed and store a text
//	     |
//	     v
//	search.Engine / embedding.Store (pgvector)
//
// # Tenancy
//
// MCP transports carry no caller identity, so the serving scope is fixed at
// construction: one MCP process serves exactly one tenant and user, chosen
// by whoever launches the process (the `copilot mcp` command takes them as
// flags). Every tool call runs under that scope; there is no way for a
// client to reach another tenant's rows.
//
// # Tool Handler Pattern
//
// Handlers follow the SDK's typed-handler convention:
//
//  1. Define the input struct with json tags and jsonschema descriptions
//  2. Infer the schema with jsonschema-go
//  3. Register with mcp.AddTool and handle inline
//
// # Error Handling
//
// Two kinds of failure leave a handler:
//
//   - Client mistakes (empty query, unknown source type, text over the
//     limit) return a result with IsError=true so the calling model can
//     read the message and correct itself.
//   - System failures (database down, provider outage) return a Go error,
//     which the SDK surfaces as a protocol-level tool failure.
package mcp
