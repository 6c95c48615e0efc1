// Package respserver provides the RESP protocol front end: it accepts
// client connections, reads commands, dispatches them to the engine and
// writes replies. Connections that complete a PSYNC handshake are
// handed off to the replication fan-out.
package respserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/rivulet-go/internal/engine"
	"github.com/yndnr/rivulet-go/internal/protocol"
	"github.com/yndnr/rivulet-go/internal/pubsub"
	"github.com/yndnr/rivulet-go/internal/telemetry/logger"
	"github.com/yndnr/rivulet-go/internal/telemetry/metric"
)

// Config holds the RESP server configuration.
type Config struct {
	// Address is the listen address for the plaintext port.
	Address string
	// TLSEnabled enables an additional TLS listener.
	TLSEnabled bool
	// TLSAddress is the address for the TLS port.
	TLSAddress string
	// TLSConfig is required when TLSEnabled is true.
	TLSConfig *tls.Config
	// ReadTimeout bounds reading one command once its first byte
	// arrived. Helps against slowloris clients.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing a reply.
	WriteTimeout time.Duration
	// IdleTimeout bounds the gap between commands.
	IdleTimeout time.Duration
	// RateLimit is the maximum commands per second per client IP.
	// Zero disables rate limiting.
	RateLimit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:6379",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
		RateLimit:    0,
	}
}

// Server is the RESP protocol server.
type Server struct {
	cfg     *Config
	eng     *engine.Engine
	log     logger.Logger
	metrics *metric.Registry
	limiter *ipLimiter

	plainLn net.Listener
	tlsLn   net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a RESP server over the given engine.
func New(cfg *Config, eng *engine.Engine, log logger.Logger, metrics *metric.Registry) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		cfg:     cfg,
		eng:     eng,
		log:     log,
		metrics: metrics,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit)
	}
	return s
}

// Start begins accepting connections. It does not block.
func (s *Server) Start(ctx context.Context) error {
	s.running.Store(true)

	s.log.Info("starting resp server", "address", s.cfg.Address)
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.plainLn = ln
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx, ln); err != nil && s.running.Load() {
			s.log.Error("resp server accept error", "error", err)
		}
	}()

	if s.cfg.TLSEnabled {
		if s.cfg.TLSConfig == nil {
			return errors.New("respserver: TLS enabled without TLS config")
		}
		s.log.Info("starting resp server (tls)", "address", s.cfg.TLSAddress)
		tlsLn, err := tls.Listen("tcp", s.cfg.TLSAddress, s.cfg.TLSConfig)
		if err != nil {
			return err
		}
		s.tlsLn = tlsLn
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.acceptLoop(ctx, tlsLn); err != nil && s.running.Load() {
				s.log.Error("resp tls server accept error", "error", err)
			}
		}()
	}
	return nil
}

// Addr returns the bound address of the plaintext listener.
func (s *Server) Addr() net.Addr {
	if s.plainLn == nil {
		return nil
	}
	return s.plainLn.Addr()
}

// Shutdown closes the listeners and waits for connections to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	for _, ln := range []net.Listener{s.plainLn, s.tlsLn} {
		if ln == nil {
			continue
		}
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, newConn(c))
		}()
	}
}

// conn is one client connection plus its buffered IO. writeMu keeps
// command replies and pub/sub pushes from interleaving mid-frame.
type conn struct {
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newConn(c net.Conn) *conn {
	return &conn{
		netConn: c,
		br:      bufio.NewReader(c),
		bw:      bufio.NewWriter(c),
	}
}

func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

func (c *conn) writeReply(v protocol.Value, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.netConn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := c.bw.Write(v.Marshal()); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (s *Server) serveConn(ctx context.Context, c *conn) {
	defer c.Close()

	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()
		defer s.metrics.ConnectionsActive.Dec()
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := s.eng.NewSession(c.netConn.RemoteAddr().String())
	defer s.eng.CloseSession(sess)

	readTimeout := s.cfg.ReadTimeout
	writeTimeout := s.cfg.WriteTimeout
	idleTimeout := s.cfg.IdleTimeout

	var pumpStarted bool

	for {
		// First byte under the idle deadline: connections may sit quiet
		// between commands.
		if err := c.netConn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			s.logReadEnd(c, err)
			return
		}

		// Then tighten to the per-command read deadline.
		if err := c.netConn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		args, err := protocol.ReadCommand(c.br)
		if err != nil {
			if errors.Is(err, protocol.ErrLimitExceeded) {
				s.log.Warn("protocol limit exceeded", "remote", c.netConn.RemoteAddr())
				_ = c.writeReply(protocol.ErrorString("ERR protocol limit exceeded"), writeTimeout)
				return
			}
			if !errors.Is(err, io.EOF) {
				s.logReadEnd(c, err)
				if errors.Is(err, protocol.ErrProtocol) {
					_ = c.writeReply(protocol.ErrorString("ERR protocol error: "+err.Error()), writeTimeout)
				}
			}
			return
		}
		if len(args) == 0 {
			continue
		}

		if protocol.NormalizeName(args[0]) == "QUIT" {
			_ = c.writeReply(protocol.OK, writeTimeout)
			return
		}

		if s.limiter != nil && !s.limiter.allow(remoteIP(c.netConn)) {
			if err := c.writeReply(protocol.ErrorString("ERR rate limit exceeded"), writeTimeout); err != nil {
				return
			}
			continue
		}

		// Blocking commands park here; the read loop is idle meanwhile.
		c.netConn.SetReadDeadline(time.Time{})
		res := s.eng.Dispatch(connCtx, sess, args)

		if res.Handoff != nil {
			// The connection now belongs to the replication fan-out.
			s.log.Info("connection promoted to replica link",
				"remote", c.netConn.RemoteAddr(), "replica_id", res.Handoff.ID)
			s.eng.Master().Serve(res.Handoff, c.netConn, c.br)
			return
		}

		if err := c.writeReply(res.Reply, writeTimeout); err != nil {
			return
		}

		if sess.Sub != nil && !pumpStarted {
			pumpStarted = true
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.pumpMessages(c, sess.Sub, writeTimeout)
			}()
		}
	}
}

// pumpMessages forwards published messages to a subscribed connection.
// It ends when the subscriber is closed with its session.
func (s *Server) pumpMessages(c *conn, sub *pubsub.Subscriber, writeTimeout time.Duration) {
	for msg := range sub.C() {
		push := protocol.Array(
			protocol.BulkString("message"),
			protocol.BulkString(msg.Channel),
			protocol.BulkString(msg.Payload),
		)
		if err := c.writeReply(push, writeTimeout); err != nil {
			_ = c.Close()
			return
		}
	}
}

func (s *Server) logReadEnd(c *conn, err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.log.Debug("connection timed out", "remote", c.netConn.RemoteAddr())
		return
	}
	s.log.Debug("connection read error", "remote", c.netConn.RemoteAddr(), "error", err)
}

func remoteIP(c net.Conn) string {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return host
}
