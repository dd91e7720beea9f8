package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-realtime-service/internal/app"
)

// fakeService blocks in Start until Shutdown is called.
type fakeService struct {
	startErr error
	stopped  chan struct{}
	once     sync.Once

	mu        sync.Mutex
	shutdowns int
	order     *[]string
	name      string
}

func newFakeService(name string, order *[]string, startErr error) *fakeService {
	return &fakeService{name: name, order: order, startErr: startErr, stopped: make(chan struct{})}
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	<-f.stopped
	return nil
}

func (f *fakeService) Shutdown(context.Context) error {
	f.mu.Lock()
	f.shutdowns++
	*f.order = append(*f.order, f.name)
	f.mu.Unlock()
	f.once.Do(func() { close(f.stopped) })
	return nil
}

func TestRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Cancelled context shuts down API first", func(t *testing.T) {
		var order []string
		apiSvc := newFakeService("api", &order, nil)
		wsSvc := newFakeService("ws", &order, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			app.Run(ctx, logger, apiSvc, wsSvc)
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
		}
		assert.Equal(t, []string{"api", "ws"}, order)
	})

	t.Run("Failing service triggers shutdown of the other", func(t *testing.T) {
		var order []string
		apiSvc := newFakeService("api", &order, errors.New("port in use"))
		wsSvc := newFakeService("ws", &order, nil)

		done := make(chan struct{})
		go func() {
			app.Run(context.Background(), logger, apiSvc, wsSvc)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
		}
		assert.Equal(t, 1, wsSvc.shutdowns)
	})
}
