// Package scripted is a deterministic in-process backend that replays a
// fixed event script for every request. It honors max_tokens and context
// cancellation, which makes it the reference double for pipeline tests,
// examples, and the dev profile.
package scripted

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

type Backend struct {
	script []types.GenerationEvent
	err    error
	delay  time.Duration
}

// New builds a backend that streams the given chunks in order.
func New(chunks ...string) *Backend {
	b := &Backend{}
	for _, c := range chunks {
		b.script = append(b.script, types.GenerationEvent{Chunk: c})
	}
	return b
}

// WithToolCall appends a terminal tool-call event to the script.
func (b *Backend) WithToolCall(call types.ToolCall) *Backend {
	b.script = append(b.script, types.GenerationEvent{ToolCall: &call})
	return b
}

// WithError makes the stream fail (and GenerateOnce error) after the script
// is exhausted.
func (b *Backend) WithError(err error) *Backend {
	b.err = err
	return b
}

// WithDelay inserts a pause before each event, for timing-sensitive tests.
func (b *Backend) WithDelay(d time.Duration) *Backend {
	b.delay = d
	return b
}

func (b *Backend) StreamEvents(ctx context.Context, req types.GenerationRequest) (types.EventStream, error) {
	return &stream{
		ctx:    ctx,
		events: b.script,
		err:    b.err,
		delay:  b.delay,
		limit:  req.Params.MaxTokens,
		quit:   make(chan struct{}),
	}, nil
}

func (b *Backend) GenerateOnce(ctx context.Context, req types.GenerationRequest) (types.GenerationResult, error) {
	if err := ctx.Err(); err != nil {
		return types.GenerationResult{}, err
	}
	if b.err != nil {
		return types.GenerationResult{}, b.err
	}

	limit := req.Params.MaxTokens
	var text strings.Builder
	sent := 0
	truncated := false
	for _, ev := range b.script {
		if ev.IsToolCall() {
			call := *ev.ToolCall
			return types.GenerationResult{
				Text:     text.String(),
				ToolCall: &call,
				Usage:    approxUsage(req, text.String()),
			}, nil
		}
		if limit > 0 && sent >= limit {
			truncated = true
			break
		}
		text.WriteString(ev.Chunk)
		sent++
	}
	return types.GenerationResult{
		Text:      text.String(),
		Usage:     approxUsage(req, text.String()),
		Truncated: truncated,
	}, nil
}

// stream treats each scripted chunk as one token for max_tokens purposes.
type stream struct {
	ctx    context.Context
	events []types.GenerationEvent
	err    error
	delay  time.Duration
	limit  int
	idx    int
	sent   int
	quit   chan struct{}
	once   sync.Once
}

func (s *stream) Next() (types.GenerationEvent, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return types.GenerationEvent{}, s.ctx.Err()
		case <-s.quit:
			return types.GenerationEvent{}, io.EOF
		}
	} else {
		select {
		case <-s.ctx.Done():
			return types.GenerationEvent{}, s.ctx.Err()
		case <-s.quit:
			return types.GenerationEvent{}, io.EOF
		default:
		}
	}

	for s.idx < len(s.events) {
		ev := s.events[s.idx]
		s.idx++
		if ev.IsToolCall() {
			return ev, nil
		}
		if s.limit > 0 && s.sent >= s.limit {
			return types.GenerationEvent{}, io.EOF
		}
		s.sent++
		return ev, nil
	}
	if s.err != nil {
		return types.GenerationEvent{}, s.err
	}
	return types.GenerationEvent{}, io.EOF
}

func (s *stream) Close() error {
	s.once.Do(func() { close(s.quit) })
	return nil
}

func approxUsage(req types.GenerationRequest, completion string) *types.Usage {
	prompt := 0
	for _, m := range req.Messages {
		prompt += types.ApproxTokenCount(m.Content)
	}
	comp := types.ApproxTokenCount(completion)
	return &types.Usage{
		PromptTokens:     prompt,
		CompletionTokens: comp,
		TotalTokens:      prompt + comp,
	}
}
