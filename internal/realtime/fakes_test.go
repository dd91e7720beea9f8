package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 10, 30, 0, 123456000, time.UTC)
}

// fakeTransport records frames written by a Connection. When gate is set,
// every WriteMessage waits for a value on it before returning.
type fakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	writeErr error
	gate     chan struct{}
	writing  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{writing: make(chan struct{}, 16)}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	select {
	case f.writing <- struct{}{}:
	default:
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.messages = append(f.messages, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error          { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) frames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.messages))
	for _, m := range f.messages {
		var frame map[string]any
		if err := json.Unmarshal(m, &frame); err == nil {
			out = append(out, frame)
		}
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}
