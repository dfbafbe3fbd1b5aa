package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/google/uuid"

	"adaptive-proxy/pkg/config"
	"adaptive-proxy/pkg/httpwire"
	"adaptive-proxy/pkg/metrics"
	"adaptive-proxy/pkg/models"
)

const (
	DefaultClientTimeout  = 10 * time.Second
	DefaultMaxHeaderBytes = 64 * 1024
)

// Router picks the ordered configurations for a request.
type Router interface {
	RouteRequest(site models.Site, profile models.NetworkProfile) ([]models.NetClientConfiguration, error)
}

// ProfileSource reports the network profile the host is on.
type ProfileSource interface {
	CurrentProfile() (models.NetworkProfile, error)
}

// Dialer opens outbound streams for a configuration.
type Dialer interface {
	DialTunnel(ctx context.Context, cfg models.NetClientConfiguration, target string) (transport.StreamConn, error)
	DialProxy(ctx context.Context, cfg models.NetClientConfiguration) (transport.StreamConn, error)
}

// Options tunes client handling.
type Options struct {
	// ClientTimeout bounds how long an idle client is kept and how long
	// reading a request header may take.
	ClientTimeout  time.Duration
	MaxHeaderBytes int
	Metrics        *metrics.Collector
}

// Listener is a bound inbound.
type Listener struct {
	Name string
	net.Listener
}

// Listen binds every inbound. On error the listeners already bound are closed.
func Listen(ctx context.Context, inbounds []config.Inbound) ([]Listener, error) {
	var lc net.ListenConfig
	listeners := make([]Listener, 0, len(inbounds))
	for _, in := range inbounds {
		ln, err := lc.Listen(ctx, "tcp", in.Address)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, fmt.Errorf("failed to listen on inbound %s (%s): %w", in.Name, in.Address, err)
		}
		listeners = append(listeners, Listener{Name: in.Name, Listener: ln})
	}
	return listeners, nil
}

type accepted struct {
	inbound string
	conn    net.Conn
}

// Server is the proxy engine.
type Server struct {
	router   Router
	profiles ProfileSource
	dialer   Dialer
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(router Router, profiles ProfileSource, dialer Dialer, opts Options, logger *slog.Logger) *Server {
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = DefaultClientTimeout
	}
	if opts.MaxHeaderBytes <= 0 {
		opts.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		router:   router,
		profiles: profiles,
		dialer:   dialer,
		opts:     opts,
		logger:   logger.With("component", "proxy"),
		metrics:  opts.Metrics,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts clients on every listener until ctx is done, then closes the
// listeners and open client connections and waits for handlers to return.
func (s *Server) Serve(ctx context.Context, listeners []Listener) error {
	if len(listeners) == 0 {
		return errors.New("no inbounds to serve")
	}

	names := make([]string, len(listeners))
	for i, l := range listeners {
		names[i] = l.Name + "|" + l.Addr().String()
	}
	s.logger.Info("Proxy server started", "inbounds", names)

	clients := make(chan accepted)
	var acceptors sync.WaitGroup
	for _, l := range listeners {
		l := l
		acceptors.Add(1)
		go func() {
			defer acceptors.Done()
			s.acceptLoop(ctx, l, clients)
		}()
	}

	stop := context.AfterFunc(ctx, func() {
		for _, l := range listeners {
			l.Close()
		}
	})
	defer stop()

	go func() {
		acceptors.Wait()
		close(clients)
	}()

	for c := range clients {
		s.dispatch(ctx, c)
	}

	s.closeClients()
	s.wg.Wait()
	s.logger.Info("Proxy server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, l Listener, clients chan<- accepted) {
	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient accept errors (e.g. out of descriptors).
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn("Accept failed", "inbound", l.Name, "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		select {
		case clients <- accepted{inbound: l.Name, conn: conn}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c accepted) {
	s.mu.Lock()
	s.conns[c.conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, c.conn)
			s.mu.Unlock()
		}()
		s.handleClient(ctx, c.inbound, c.conn)
	}()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// handleClient runs the per-connection state machine. Nothing it does can
// take down the server: errors end this connection only.
func (s *Server) handleClient(ctx context.Context, inbound string, conn net.Conn) {
	logger := s.logger.With("client_id", uuid.NewString(), "inbound", inbound)
	s.metrics.ConnectionOpened()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Client handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
		conn.Close()
		s.metrics.ConnectionClosed()
		logger.Info("Client done, connection closed")
	}()

	logger.Info("New client connected", "remote", conn.RemoteAddr())
	br := bufio.NewReader(conn)

	for ordinal := 1; ; ordinal++ {
		if !s.awaitData(logger, conn, br) {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.opts.ClientTimeout))
		lines, err := httpwire.ReadRawHeader(br, s.opts.MaxHeaderBytes)
		conn.SetReadDeadline(time.Time{})
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("Failed to read request header", "error", err)
			}
			return
		}

		header, err := httpwire.ParseRequestHeader(lines)
		if err != nil {
			logger.Warn("Invalid request", "error", err)
			s.metrics.RequestHandled("unknown", "invalid")
			return
		}

		rlogger := logger.With("request", ordinal)
		clientOpen, err := s.handleRequest(ctx, rlogger, conn, br, header)
		if err != nil {
			rlogger.Error("Error while handling request", "error", err)
			s.metrics.RequestHandled(requestKind(header), "failed")
			return
		}
		s.metrics.RequestHandled(requestKind(header), "ok")
		rlogger.Info("Request finished")

		if !header.WantsKeepAlive() || !clientOpen {
			return
		}
		logger.Debug("Client requested to keep connection alive")
	}
}

// awaitData waits up to the client timeout for the next request to start.
func (s *Server) awaitData(logger *slog.Logger, conn net.Conn, br *bufio.Reader) bool {
	conn.SetReadDeadline(time.Now().Add(s.opts.ClientTimeout))
	defer conn.SetReadDeadline(time.Time{})

	if _, err := br.Peek(1); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			logger.Info("Closing connection due to client inactivity")
		} else if !errors.Is(err, io.EOF) {
			logger.Debug("Client read failed", "error", err)
		}
		return false
	}
	return true
}

func requestKind(h httpwire.RequestHeader) string {
	if h.IsConnect() {
		return "connect"
	}
	return "http"
}

// handleRequest routes, dials and relays one request. It reports whether the
// client side is still open afterwards.
func (s *Server) handleRequest(ctx context.Context, logger *slog.Logger, conn net.Conn, br *bufio.Reader, header httpwire.RequestHeader) (bool, error) {
	endpoint := header.URI.EndPoint
	logger.Info("New request", "method", header.Method, "endpoint", endpoint.String())

	profile, err := s.profiles.CurrentProfile()
	if err != nil {
		return false, err
	}
	cfgs, err := s.router.RouteRequest(endpoint.Host, profile)
	if err != nil {
		return false, fmt.Errorf("failed to route %s: %w", endpoint.Host, err)
	}
	logger.Info("Routed", "profile", profile, "configurations", configurationNames(cfgs))

	upstream, used, err := s.dial(ctx, logger, header, cfgs)
	if err != nil {
		return false, err
	}
	defer upstream.Close()
	logger.Info("Connected", "configuration", used.Name)

	if header.IsConnect() {
		if _, err := io.WriteString(conn, httpwire.ConnectionEstablished); err != nil {
			return false, fmt.Errorf("failed to confirm tunnel: %w", err)
		}
	}

	return relay(conn, br, upstream), nil
}

func configurationNames(cfgs []models.NetClientConfiguration) []string {
	names := make([]string, len(cfgs))
	for i, c := range cfgs {
		names[i] = c.Name
	}
	return names
}
