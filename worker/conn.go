package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"time"

	"matrix-convolution/coordinator"
	"matrix-convolution/shared"
)

// RPCConn talks to a remote coordinator over net/rpc.
type RPCConn struct {
	rank   int
	client *rpc.Client
}

// Dial connects to the coordinator at addr, retrying up to attempts times
// with backoff between tries. An addr without a port gets
// shared.CoordinatorPort.
func Dial(ctx context.Context, addr string, rank, attempts int, backoff time.Duration, logger *slog.Logger) (*RPCConn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr = shared.WithDefaultPort(addr)
	var d net.Dialer
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var conn net.Conn
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			logger.Debug("worker: connected to coordinator", "addr", addr)
			return &RPCConn{rank: rank, client: rpc.NewClientWithCodec(shared.NewClientCodec(conn))}, nil
		}
		logger.Warn("worker: failed to connect to coordinator", "attempt", attempt, "addr", addr, "error", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("connecting to coordinator at %s after %d attempts: %w", addr, attempts, err)
}

// Ready implements Conn.
func (c *RPCConn) Ready(ctx context.Context) (shared.Message, error) {
	var reply shared.ReadyReply
	call := c.client.Go(shared.ReadyMethod, shared.ReadyArgs{Rank: c.rank, Message: shared.Ready}, &reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-call.Done:
		if call.Error != nil {
			return 0, call.Error
		}
		return reply.Message, nil
	}
}

// Close hangs up.
func (c *RPCConn) Close() error {
	return c.client.Close()
}

// InboxConn delivers READY straight into a coordinator running in the same
// process.
type InboxConn struct {
	Rank  int
	Inbox chan<- *coordinator.Request
}

// Ready implements Conn.
func (c InboxConn) Ready(ctx context.Context) (shared.Message, error) {
	req := coordinator.NewRequest(c.Rank)
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case c.Inbox <- req:
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case m := <-req.Reply():
		return m, nil
	}
}
