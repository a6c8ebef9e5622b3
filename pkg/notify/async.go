package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/pkg/jobs"
)

type envelope struct {
	Target   string
	Template string
	EventKey string
	Payload  map[string]string
}

// AsyncSink decouples emitters from delivery by pushing notifications onto
// a worker queue. Failed deliveries are retried by the queue; callers never
// retry themselves.
type AsyncSink struct {
	queue *jobs.Queue
}

// NewAsyncSink wraps next with a delivery queue. Start/Stop follow the
// process lifecycle.
func NewAsyncSink(next Sink, cfg jobs.QueueConfig, logger *zap.Logger) *AsyncSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	s := &AsyncSink{}
	s.queue = jobs.NewQueue("notify", func(ctx context.Context, task jobs.Task) error {
		env, ok := task.Payload.(envelope)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", task.Payload)
		}
		return next.Emit(ctx, env.Target, env.Template, env.EventKey, env.Payload)
	}, cfg)
	return s
}

// Start launches the delivery workers.
func (s *AsyncSink) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *AsyncSink) Stop() {
	s.queue.Stop()
}

// Emit enqueues the notification for delivery.
func (s *AsyncSink) Emit(ctx context.Context, target, templateKey, eventKey string, payload map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.queue.Enqueue(jobs.Task{
		Key:  eventKey,
		Kind: templateKey,
		Payload: envelope{
			Target:   target,
			Template: templateKey,
			EventKey: eventKey,
			Payload:  payload,
		},
	})
}
