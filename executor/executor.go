// Package executor runs a single convolution task: load both operands,
// convolve them and store the result.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"matrix-convolution/kernel"
	"matrix-convolution/matrix"
	"matrix-convolution/tasklist"
)

// MatrixIO resolves task locators to matrices and back.
type MatrixIO interface {
	Load(locator string) (*matrix.Matrix, error)
	Store(locator string, m *matrix.Matrix) error
}

// Executor runs tasks with one kernel strategy.
type Executor struct {
	io     MatrixIO
	kernel kernel.Strategy
	logger *slog.Logger
}

// New creates an executor. A nil logger falls back to slog.Default().
func New(io MatrixIO, k kernel.Strategy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{io: io, kernel: k, logger: logger}
}

// Execute runs task. The returned error names the task index and the step
// that failed.
func (e *Executor) Execute(ctx context.Context, task tasklist.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	a, err := e.io.Load(task.A)
	if err != nil {
		return fmt.Errorf("task %d: load A: %w", task.Index, err)
	}
	b, err := e.io.Load(task.B)
	if err != nil {
		return fmt.Errorf("task %d: load B: %w", task.Index, err)
	}

	out, err := e.kernel.Convolve(a, b)
	if err != nil {
		return fmt.Errorf("task %d: convolve: %w", task.Index, err)
	}

	if err := e.io.Store(task.Out, out); err != nil {
		return fmt.Errorf("task %d: store: %w", task.Index, err)
	}

	e.logger.Debug("executor: task completed",
		"task", task.Index,
		"strategy", e.kernel.Name(),
		"a", fmt.Sprintf("%dx%d", a.Rows, a.Cols),
		"b", fmt.Sprintf("%dx%d", b.Rows, b.Cols),
		"out", task.Out,
		"elapsed", time.Since(start),
	)
	return nil
}
