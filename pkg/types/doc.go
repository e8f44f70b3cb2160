// Package types defines the wire schemas and domain types shared across the
// gateway: chat messages and tools, the OpenAI-compatible and Ollama-compatible
// request/response envelopes, generation events, the inference backend
// contract, and the API error taxonomy.
package types
