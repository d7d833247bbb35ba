// Package coordinator implements rank 0 of the task farm. It hands out
// task indices in increasing order to whichever worker asks first, then
// answers each worker's final request with STOP.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"matrix-convolution/shared"
)

// ErrInboxClosed is returned by Run when its request source goes away
// before the protocol completes.
var ErrInboxClosed = errors.New("coordinator: request inbox closed")

// Request is one READY from a worker, waiting for exactly one reply.
type Request struct {
	Rank  int
	reply chan shared.Message
}

// NewRequest creates a pending READY from rank.
func NewRequest(rank int) *Request {
	return &Request{Rank: rank, reply: make(chan shared.Message, 1)}
}

// Respond sends the reply. It must be called exactly once.
func (r *Request) Respond(m shared.Message) {
	r.reply <- m
}

// Reply returns the channel the reply is delivered on.
func (r *Request) Reply() <-chan shared.Message {
	return r.reply
}

// Coordinator owns the task cursor. Run must be called from a single
// goroutine; nothing else touches the cursor.
type Coordinator struct {
	total   int
	workers int
	next    int
	inbox   <-chan *Request
	logger  *slog.Logger
	report  *Report
}

// New creates a coordinator for total tasks served to workers workers.
func New(total, workers int, inbox <-chan *Request, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		total:   total,
		workers: workers,
		inbox:   inbox,
		logger:  logger,
		report:  newReport(total, workers),
	}
}

// Report returns the run report. It is complete once Run has returned.
func (c *Coordinator) Report() *Report {
	return c.report
}

// Next returns the cursor: the number of tasks assigned so far.
func (c *Coordinator) Next() int {
	return c.next
}

// Run executes the dispatch phase followed by the drain phase. It performs
// exactly total+workers receives. A worker that dies without sending its
// next READY leaves Run blocked until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.total > 0 && c.workers < 1 {
		return fmt.Errorf("coordinator: %d tasks but no workers", c.total)
	}
	c.report.Started = time.Now()
	defer func() { c.report.Finished = time.Now() }()

	c.logger.Info("coordinator: dispatching", "tasks", c.total, "workers", c.workers)
	for c.next < c.total {
		req, err := c.receive(ctx)
		if err != nil {
			return fmt.Errorf("dispatch after %d of %d tasks: %w", c.next, c.total, err)
		}
		req.Respond(shared.Assign(c.next))
		c.report.assigned(req.Rank, c.next)
		c.logger.Debug("coordinator: task assigned", "task", c.next, "worker", req.Rank)
		c.next++
	}

	c.logger.Info("coordinator: all tasks assigned, draining", "workers", c.workers)
	for stopped := 0; stopped < c.workers; stopped++ {
		req, err := c.receive(ctx)
		if err != nil {
			return fmt.Errorf("drain after %d of %d workers: %w", stopped, c.workers, err)
		}
		req.Respond(shared.Stop)
		c.report.stopped(req.Rank)
		c.logger.Debug("coordinator: worker stopped", "worker", req.Rank)
	}

	c.logger.Info("coordinator: finished", "tasks", c.total, "elapsed", time.Since(c.report.Started))
	return nil
}

func (c *Coordinator) receive(ctx context.Context) (*Request, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case req, ok := <-c.inbox:
		if !ok {
			return nil, ErrInboxClosed
		}
		c.report.ready(req.Rank)
		return req, nil
	}
}
