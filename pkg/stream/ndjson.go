package stream

import (
	"encoding/json"
	"net/http"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

// NDJSONStyle selects the per-line frame shape.
type NDJSONStyle int

const (
	// NDJSONChat frames content as {"message":{"role":"assistant","content":...}}.
	NDJSONChat NDJSONStyle = iota
	// NDJSONGenerate frames content as {"response":...}.
	NDJSONGenerate
)

type ndjsonMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ndjsonChatFrame struct {
	Message ndjsonMessage `json:"message"`
}

type ndjsonGenerateFrame struct {
	Response string `json:"response"`
}

type ndjsonDoneFrame struct {
	Done bool `json:"done"`
}

// NDJSONWriter frames content as newline-delimited JSON in the Ollama wire
// shape. There is no role prelude and no finish frame; the stream ends with
// a single {"done":true} line.
type NDJSONWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	style   NDJSONStyle
	closed  bool
	failed  bool
}

func NewNDJSONWriter(w http.ResponseWriter, style NDJSONStyle) *NDJSONWriter {
	flusher, _ := w.(http.Flusher)
	return &NDJSONWriter{w: w, flusher: flusher, style: style}
}

func (n *NDJSONWriter) WriteHeaders(extra http.Header) error {
	if n.closed || n.failed {
		return nil
	}
	h := n.w.Header()
	h.Set("Content-Type", "application/x-ndjson")
	h.Set("Cache-Control", "no-cache")
	for key, values := range extra {
		for _, v := range values {
			h.Add(key, v)
		}
	}
	n.w.WriteHeader(http.StatusOK)
	n.flush()
	return nil
}

// WriteRole is a no-op; NDJSON frames carry the role inline.
func (n *NDJSONWriter) WriteRole(string) error { return nil }

func (n *NDJSONWriter) WriteContent(text string) error {
	switch n.style {
	case NDJSONGenerate:
		return n.writeLine(ndjsonGenerateFrame{Response: text})
	default:
		return n.writeLine(ndjsonChatFrame{Message: ndjsonMessage{
			Role:    types.RoleAssistant,
			Content: text,
		}})
	}
}

// WriteToolCall reports false: the NDJSON framing has no tool-call deltas,
// so the caller flushes pending text and terminates instead.
func (n *NDJSONWriter) WriteToolCall(types.ToolCall) bool { return false }

// WriteFinish is a no-op; termination is signalled by the done frame alone.
func (n *NDJSONWriter) WriteFinish(string) error { return nil }

func (n *NDJSONWriter) WriteEnd() error {
	if n.closed || n.failed {
		return nil
	}
	err := n.writeLine(ndjsonDoneFrame{Done: true})
	n.closed = true
	return err
}

func (n *NDJSONWriter) writeLine(frame any) error {
	if n.closed || n.failed {
		return nil
	}
	data, err := json.Marshal(frame)
	if err != nil {
		n.failed = true
		return err
	}
	data = append(data, '\n')
	if _, err := n.w.Write(data); err != nil {
		n.failed = true
		return err
	}
	n.flush()
	return nil
}

func (n *NDJSONWriter) flush() {
	if n.flusher != nil {
		n.flusher.Flush()
	}
}
