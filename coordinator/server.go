package coordinator

import (
	"errors"
	"log/slog"
	"net"
	"net/rpc"
	"sync"

	"matrix-convolution/shared"
)

// ErrShutdown is returned to workers that call after the coordinator has
// stopped serving.
var ErrShutdown = errors.New("coordinator: shut down")

// Service is the net/rpc receiver registered as "Coordinator". Each Ready
// call becomes one Request on the inbox and blocks for its reply.
type Service struct {
	inbox chan<- *Request
	done  <-chan struct{}
}

// Ready handles a worker's idle request.
func (s *Service) Ready(args shared.ReadyArgs, reply *shared.ReadyReply) error {
	req := NewRequest(args.Rank)
	select {
	case s.inbox <- req:
	case <-s.done:
		return ErrShutdown
	}
	select {
	case reply.Message = <-req.Reply():
		return nil
	case <-s.done:
		// A reply sent just before shutdown still wins.
		select {
		case reply.Message = <-req.Reply():
			return nil
		default:
			return ErrShutdown
		}
	}
}

// Server accepts worker connections and funnels their requests into a
// single inbox.
type Server struct {
	listener net.Listener
	rpc      *rpc.Server
	inbox    chan *Request
	done     chan struct{}
	served   chan struct{}
	conns    sync.WaitGroup
	once     sync.Once
	logger   *slog.Logger
}

// Listen binds addr and registers the coordinator service.
func Listen(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		rpc:      rpc.NewServer(),
		inbox:    make(chan *Request),
		done:     make(chan struct{}),
		served:   make(chan struct{}),
		logger:   logger,
	}
	if err := s.rpc.RegisterName(shared.ServiceName, &Service{inbox: s.inbox, done: s.done}); err != nil {
		listener.Close()
		return nil, err
	}
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Inbox returns the stream of worker requests for Coordinator.Run.
func (s *Server) Inbox() <-chan *Request {
	return s.inbox
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() {
	defer close(s.served)
	s.logger.Info("coordinator: listening", "addr", s.listener.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("coordinator: accept failed", "error", err)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.logger.Debug("coordinator: worker connected", "remote", conn.RemoteAddr().String())
			s.rpc.ServeCodec(shared.NewServerCodec(conn))
		}()
	}
}

// Close stops accepting connections and fails any request that arrives
// from now on.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}

// Wait blocks until Serve has returned and every connected worker has
// hung up. Calling it after a successful Run guarantees each STOP reply
// has been written. Serve must have been started.
func (s *Server) Wait() {
	<-s.served
	s.conns.Wait()
}
