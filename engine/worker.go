package engine

import (
	"context"
	"time"

	"github.com/micromdm/nanorpa/log/logkeys"

	"github.com/micromdm/nanolib/log"
)

// DefaultDuration is the default queue polling interval.
const DefaultDuration = 100 * time.Millisecond

// TaskRunner runs a single queued task to completion.
type TaskRunner interface {
	RunTask(ctx context.Context, id string) error
}

// Worker drains the task queue on an interval.
// Tasks are run one at a time in queue order.
type Worker struct {
	runner TaskRunner
	queue  *Queue
	logger log.Logger

	// duration is the interval at which the worker will wake up to
	// drain the queue.
	duration time.Duration
}

type WorkerOption func(w *Worker)

func WithWorkerLogger(logger log.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithWorkerDuration configures the polling interval for the worker.
func WithWorkerDuration(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.duration = d
	}
}

func NewWorker(runner TaskRunner, queue *Queue, opts ...WorkerOption) *Worker {
	w := &Worker{
		runner:   runner,
		queue:    queue,
		logger:   log.NopLogger,
		duration: DefaultDuration,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunOnce runs the tasks queued at the time of the call.
// Tasks enqueued while running wait for the next call. Once ctx is
// done the current task finishes and the rest are put back on the queue.
func (w *Worker) RunOnce(ctx context.Context) error {
	ids := w.queue.Drain()
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			w.queue.Requeue(ids[i:])
			return err
		}
		if err := w.runner.RunTask(context.WithoutCancel(ctx), id); err != nil {
			w.logger.Info(
				logkeys.Message, "running task",
				logkeys.TaskID, id,
				logkeys.Error, err,
			)
		}
	}
	return nil
}

// Run starts and runs the worker forever on an interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug(logkeys.Message, "starting worker", "duration", w.duration)

	ticker := time.NewTicker(w.duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
