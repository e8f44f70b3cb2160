package upstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

type streamFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type streamToolCall struct {
	Index    int            `json:"index"`
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function streamFunction `json:"function"`
}

type streamDelta struct {
	Content   string           `json:"content"`
	ToolCalls []streamToolCall `json:"tool_calls"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

// eventStream turns upstream SSE lines into generation events. Tool-call
// deltas arrive fragmented; they are reassembled and surfaced as one
// terminal event.
type eventStream struct {
	reader  *bufio.Reader
	body    io.ReadCloser
	pending *types.ToolCall
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		reader: bufio.NewReaderSize(body, 64<<10),
		body:   body,
	}
}

func (s *eventStream) Next() (types.GenerationEvent, error) {
	if s.done {
		return types.GenerationEvent{}, io.EOF
	}
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				if call := s.takePending(); call != nil {
					return types.GenerationEvent{ToolCall: call}, nil
				}
				return types.GenerationEvent{}, io.EOF
			}
			return types.GenerationEvent{}, fmt.Errorf("read upstream stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))
		if bytes.Equal(data, doneMarker) {
			s.done = true
			if call := s.takePending(); call != nil {
				return types.GenerationEvent{ToolCall: call}, nil
			}
			return types.GenerationEvent{}, io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Malformed frames are skipped, not fatal.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		for _, tc := range choice.Delta.ToolCalls {
			s.absorb(tc)
		}
		if choice.FinishReason != nil && *choice.FinishReason == types.FinishToolCalls {
			s.done = true
			if call := s.takePending(); call != nil {
				return types.GenerationEvent{ToolCall: call}, nil
			}
			return types.GenerationEvent{}, io.EOF
		}
		if choice.Delta.Content != "" {
			return types.GenerationEvent{Chunk: choice.Delta.Content}, nil
		}
	}
}

// absorb folds one fragment into the pending tool call. Only the first call
// slot is tracked; the stream contract carries at most one.
func (s *eventStream) absorb(tc streamToolCall) {
	if tc.Index != 0 {
		return
	}
	if s.pending == nil {
		s.pending = &types.ToolCall{}
	}
	if tc.ID != "" {
		s.pending.ID = tc.ID
	}
	if tc.Type != "" {
		s.pending.Type = tc.Type
	}
	if tc.Function.Name != "" {
		s.pending.Function.Name = tc.Function.Name
	}
	s.pending.Function.Arguments += tc.Function.Arguments
}

func (s *eventStream) takePending() *types.ToolCall {
	call := s.pending
	s.pending = nil
	return call
}

// Close shuts the response body, which also unblocks a concurrent Next.
func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
