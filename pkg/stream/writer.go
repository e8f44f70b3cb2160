// Package stream implements the response-writing half of the gateway: the
// writer contract with its SSE and NDJSON implementations, the per-request
// micro-batcher, stop-sequence detection, and the session loop that drives a
// backend event stream onto the wire.
package stream

import (
	"net/http"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

// Meta carries the per-response identity stamped into every frame.
type Meta struct {
	ID      string
	Model   string
	Created int64
}

// Writer is the single contract both streaming framings implement. All
// methods must be called from one goroutine. Writers become silent no-ops
// after WriteEnd or after the first write failure.
type Writer interface {
	// WriteHeaders sends the framing headers and the 200 status line.
	WriteHeaders(extra http.Header) error
	// WriteRole emits the role prelude. NDJSON has no prelude and ignores it.
	WriteRole(role string) error
	// WriteContent emits one content delta.
	WriteContent(text string) error
	// WriteToolCall emits the full tool-call delta sequence, including the
	// tool_calls finish delta. It reports whether the framing carries
	// tool-call semantics; NDJSON writes nothing and returns false.
	WriteToolCall(call types.ToolCall) bool
	// WriteFinish emits the finish delta with the given reason.
	WriteFinish(reason string) error
	// WriteEnd emits the terminal marker and seals the writer.
	WriteEnd() error
}
