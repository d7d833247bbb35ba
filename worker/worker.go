// Package worker implements every non-coordinator rank: ask for work,
// execute it, repeat until told to stop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"matrix-convolution/shared"
	"matrix-convolution/tasklist"
)

// ErrProtocol is returned when the coordinator sends something a worker
// cannot act on.
var ErrProtocol = errors.New("worker: protocol violation")

// TaskError reports the task that made a worker give up.
type TaskError struct {
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d failed: %v", e.Index, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Conn is a worker's link to the coordinator. Ready sends one READY and
// blocks for its single reply.
type Conn interface {
	Ready(ctx context.Context) (shared.Message, error)
}

// Executor runs one task.
type Executor interface {
	Execute(ctx context.Context, task tasklist.Task) error
}

// Worker is the request/execute loop of one rank.
type Worker struct {
	rank      int
	tasks     []tasklist.Task
	conn      Conn
	exec      Executor
	logger    *slog.Logger
	completed []int
}

// New creates a worker for rank. tasks is this process's own copy of the
// task list.
func New(rank int, tasks []tasklist.Task, conn Conn, exec Executor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{rank: rank, tasks: tasks, conn: conn, exec: exec, logger: logger}
}

// Completed returns the indices of the tasks this worker finished, in
// completion order.
func (w *Worker) Completed() []int {
	return w.completed
}

// Run loops until the coordinator replies STOP, which returns nil. If a
// task fails, Run returns a *TaskError without sending another READY.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.conn.Ready(ctx)
		if err != nil {
			return fmt.Errorf("worker %d: ready: %w", w.rank, err)
		}
		if msg.IsStop() {
			w.logger.Info("worker: stopped", "completed", len(w.completed))
			return nil
		}

		index, ok := msg.Task()
		if !ok || index >= len(w.tasks) {
			return fmt.Errorf("%w: worker %d got %v for %d tasks", ErrProtocol, w.rank, msg, len(w.tasks))
		}

		w.logger.Debug("worker: task received", "task", index)
		if err := w.exec.Execute(ctx, w.tasks[index]); err != nil {
			w.logger.Error("worker: task failed", "task", index, "error", err)
			return &TaskError{Index: index, Err: err}
		}
		w.completed = append(w.completed, index)
	}
}
