package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

// ErrServerStopping is the cancellation cause installed when the server
// begins a graceful stop. Sessions that see it close the response cleanly
// with a finish delta instead of abandoning the connection.
var ErrServerStopping = errors.New("server stopping")

// Config holds the per-session streaming tunables.
type Config struct {
	BatchChars    int
	BatchInterval time.Duration
	ProbeTokens   int
	ProbeBytes    int
}

// Result reports how a session ended.
type Result struct {
	// Content is the concatenation of every content delta written.
	Content string
	// ToolCall is set when the backend requested a tool invocation.
	ToolCall *types.ToolCall
	// FinishReason is what the client saw; empty when the client went away
	// before a finish was written.
	FinishReason string
	// Canceled reports that the request context, not the backend, ended
	// the stream.
	Canceled bool
}

// Session drives one backend event stream onto one response writer.
//
// The goroutine calling Run performs every write. Events are pumped in from
// a child goroutine so the loop can react to flush timers and cancellation
// while the backend is quiet. Headers must already be written by the caller.
type Session struct {
	Writer Writer
	Config Config
	Stops  []string
	// ProbeForTools withholds the first tokens to see whether the backend
	// answers with a tool call before committing to free streaming.
	ProbeForTools bool
	Logger        *zap.Logger
}

type pumped struct {
	ev  types.GenerationEvent
	err error
}

// Run consumes es until it ends, a stop sequence fires, a tool call
// arrives, or ctx is done. It closes es before returning.
func (s *Session) Run(ctx context.Context, es types.EventStream) Result {
	// pumpCtx releases the pump goroutine once Run returns, whatever state
	// the parent context is in. Close unblocks a pump stuck in Next.
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	defer es.Close()
	start := time.Now()

	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	events := make(chan pumped)
	go func() {
		defer close(events)
		for {
			ev, err := es.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				select {
				case events <- pumped{err: err}:
				case <-pumpCtx.Done():
				}
				return
			}
			select {
			case events <- pumped{ev: ev}:
			case <-pumpCtx.Done():
				return
			}
		}
	}()

	batcher := NewBatcher(s.Config.BatchChars, s.Config.BatchInterval)
	defer batcher.Stop()
	tail := NewStopTail(s.Stops)

	var (
		content     strings.Builder
		probeBuf    strings.Builder
		probeTokens int
		probing     = s.ProbeForTools
		writeFailed bool
	)

	emit := func(text string) {
		if text == "" || writeFailed {
			return
		}
		if err := s.Writer.WriteContent(text); err != nil {
			writeFailed = true
			return
		}
		content.WriteString(text)
	}

	// flushProbe ends the probe phase, scanning the buffered text for stop
	// sequences and emitting the safe part as a single delta.
	flushProbe := func() (stopped bool) {
		probing = false
		text, hit := tail.Scan(probeBuf.String())
		probeBuf.Reset()
		emit(batcher.Add(text))
		return hit
	}

	finish := func(reason string) Result {
		emit(batcher.Flush())
		emit(tail.Drain())
		_ = s.Writer.WriteFinish(reason)
		_ = s.Writer.WriteEnd()
		return Result{Content: content.String(), FinishReason: reason}
	}

	if err := s.Writer.WriteRole(types.RoleAssistant); err != nil {
		return Result{Canceled: true}
	}

	for {
		if writeFailed {
			return Result{Content: content.String(), Canceled: true}
		}
		select {
		case <-ctx.Done():
			cause := context.Cause(ctx)
			switch {
			case errors.Is(cause, context.DeadlineExceeded):
				if probing {
					flushProbe()
				}
				return finish(types.FinishLength)
			case errors.Is(cause, ErrServerStopping):
				if probing {
					flushProbe()
				}
				r := finish(types.FinishStop)
				r.Canceled = true
				return r
			default:
				// Client went away; nothing left worth writing.
				return Result{Content: content.String(), Canceled: true}
			}

		case <-batcher.TimerC():
			emit(batcher.OnTimer())

		case p, ok := <-events:
			if !ok {
				if probing {
					flushProbe()
				}
				return finish(types.FinishStop)
			}
			if p.err != nil {
				// Headers are long gone, so the stream terminates like a
				// normal completion and the error stays server-side.
				logger.Error("backend stream failed mid-generation",
					zap.Error(p.err),
					zap.Duration("elapsed", time.Since(start)))
				if probing {
					flushProbe()
				}
				return finish(types.FinishStop)
			}
			if p.ev.IsToolCall() {
				// Probe text, if any, is discarded: the model answered
				// with a call, not content.
				emit(batcher.Flush())
				if !probing {
					emit(tail.Drain())
				}
				call := *p.ev.ToolCall
				call.ID = types.NewToolCallID()
				call.Type = "function"
				if call.Function.Arguments == "" {
					call.Function.Arguments = "{}"
				}
				s.Writer.WriteToolCall(call)
				_ = s.Writer.WriteEnd()
				return Result{
					Content:      content.String(),
					ToolCall:     &call,
					FinishReason: types.FinishToolCalls,
				}
			}

			if probing {
				probeBuf.WriteString(p.ev.Chunk)
				probeTokens++
				if probeTokens >= s.Config.ProbeTokens || probeBuf.Len() >= s.Config.ProbeBytes {
					if flushProbe() {
						return finish(types.FinishStop)
					}
				}
				continue
			}

			text, hit := tail.Scan(p.ev.Chunk)
			emit(batcher.Add(text))
			if hit {
				return finish(types.FinishStop)
			}
		}
	}
}
