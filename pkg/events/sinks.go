package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// AttachSlogSink consumes the stream and mirrors it into the logger.
// Errors log at ERROR, warnings at WARN, completions and dispatches at
// INFO, everything else at DEBUG. Returns a stop function that detaches
// the sink and waits for the drain.
func AttachSlogSink(e *Emitter, log *slog.Logger) func() {
	if log == nil {
		log = slog.Default()
	}
	ch, cancel := e.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			attrs := []any{
				"event_type", string(ev.Type),
				"agent_id", ev.AgentID,
				"agent_name", ev.AgentName,
			}
			if ev.CorrelationID != "" {
				attrs = append(attrs, "correlation_id", ev.CorrelationID)
			}
			if ev.Iteration > 0 {
				attrs = append(attrs, "iteration", ev.Iteration)
			}
			if ev.ToolName != "" {
				attrs = append(attrs, "tool", ev.ToolName)
			}
			switch ev.Type {
			case TypeError:
				log.Error(ev.Message, attrs...)
			case TypeWarning:
				log.Warn(ev.Message, attrs...)
			case TypeInfo, TypeLLMComplete, TypeDispatch, TypeDispatchComplete, TypeFinding:
				log.Info(ev.Message, attrs...)
			default:
				log.Debug(ev.Message, attrs...)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// JSONLSink appends events to a file as one JSON object per line. Used as
// the execution tracer: replaying the file reconstructs the full run.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// NewJSONLSink opens (or creates) the trace file in append mode.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file %s: %w", path, err)
	}
	return &JSONLSink{f: f, w: bufio.NewWriter(f)}, nil
}

// Attach subscribes the sink to an emitter. Returns a stop function that
// detaches, drains and flushes.
func (s *JSONLSink) Attach(e *Emitter) func() {
	ch, cancel := e.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			s.Write(ev)
		}
	}()

	return func() {
		cancel()
		<-done
		_ = s.Flush()
	}
}

// Write appends a single event line. Marshal failures are swallowed; a
// trace must never take down the engine.
func (s *JSONLSink) Write(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(data)
	_ = s.w.WriteByte('\n')
}

// Flush forces buffered lines to disk.
func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes the trace file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}
