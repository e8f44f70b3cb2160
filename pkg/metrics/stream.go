package metrics

import (
	"time"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

// instrumentedStream wraps an EventStream and records time-to-first-token and
// chunk counts as the session pulls events through it.
type instrumentedStream struct {
	inner types.EventStream
	m     *Metrics
	start time.Time
	first bool
}

// InstrumentStream returns an EventStream that feeds the chunk counter and
// the TTFT histogram. The clock starts when the wrapper is created, which is
// the moment the backend stream was opened.
func (m *Metrics) InstrumentStream(es types.EventStream) types.EventStream {
	if m == nil {
		return es
	}
	return &instrumentedStream{inner: es, m: m, start: time.Now()}
}

func (s *instrumentedStream) Next() (types.GenerationEvent, error) {
	ev, err := s.inner.Next()
	if err != nil {
		return ev, err
	}
	if !s.first {
		s.first = true
		s.m.TimeToFirstToken.Observe(time.Since(s.start).Seconds())
	}
	s.m.ChunksStreamed.Inc()
	return ev, nil
}

func (s *instrumentedStream) Close() error {
	return s.inner.Close()
}
