package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"

// StreamingServiceConfig controls the worker pool.
type StreamingServiceConfig struct {
	NumWorkers int
}

// StreamingService consumes messages and hands each one to a worker, which
// transforms and processes it and then settles it with the broker.
//
// Transform failures are acknowledged: a message that cannot be decoded
// will not decode on redelivery either. Processing failures are nacked so
// the broker can redeliver.
type StreamingService[T any] struct {
	numWorkers  int
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   StreamProcessor[T]
	logger      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	workers *errgroup.Group
}

// NewStreamingService wires a consumer to a transformer and processor.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor StreamProcessor[T],
	logger *slog.Logger,
) (*StreamingService[T], error) {
	if consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}
	if transformer == nil || processor == nil {
		return nil, errors.New("transformer and processor are required")
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	return &StreamingService[T]{
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		logger:      logger.With("component", "StreamingService"),
	}, nil
}

// Start starts the consumer and the worker pool. It returns once both are
// running; workers exit when the consumer's message channel closes or Stop
// is called.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers != nil {
		return errors.New("streaming service already started")
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(workCtx)
	for i := 0; i < s.numWorkers; i++ {
		worker := i
		g.Go(func() error {
			s.work(gctx, worker)
			return nil
		})
	}
	s.cancel = cancel
	s.workers = g
	s.logger.Info("Streaming service started", "workers", s.numWorkers)
	return nil
}

// Stop stops the consumer, lets workers drain what was already received
// and waits for them until ctx expires.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	s.mu.Lock()
	g, cancel := s.workers, s.cancel
	s.mu.Unlock()
	if g == nil {
		return nil
	}

	var finalErr error
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Error("Consumer stop failed", "err", err)
		finalErr = err
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for workers; cancelling in-flight work")
		cancel()
		if finalErr == nil {
			finalErr = ctx.Err()
		}
	}
	cancel()
	s.logger.Info("Streaming service stopped")
	return finalErr
}

func (s *StreamingService[T]) work(ctx context.Context, worker int) {
	log := s.logger.With("worker", worker)
	msgs := s.consumer.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.handle(ctx, msg, log)
		}
	}
}

func (s *StreamingService[T]) handle(ctx context.Context, msg Message, log *slog.Logger) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "messagepipeline.Process")
	span.SetAttributes(attribute.String("message_id", msg.ID))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic while processing message", "msg_id", msg.ID, "panic", r)
			span.SetStatus(codes.Error, "panic")
			nack(msg)
		}
	}()

	payload, skip, err := s.transformer(ctx, &msg)
	if err != nil {
		log.Warn("Discarding message that failed to transform", "msg_id", msg.ID, "err", err)
		span.SetStatus(codes.Error, err.Error())
		ack(msg)
		return
	}
	if skip {
		log.Debug("Skipping message", "msg_id", msg.ID)
		ack(msg)
		return
	}

	if err := s.processor(ctx, msg, payload); err != nil {
		log.Error("Failed to process message", "msg_id", msg.ID, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		nack(msg)
		return
	}
	ack(msg)
}
