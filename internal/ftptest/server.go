// Package ftptest runs an in-process FTP server for tests.
//
// The server speaks enough of RFC 959, RFC 2428 and RFC 4217 to exercise a
// storage client: login, plain or TLS control connections (explicit or
// implicit), passive and active data connections, and file commands over an
// afero filesystem (in memory by default). Replies can be overridden per
// command to simulate server failures, and every command and connection is
// recorded for assertions.
//
//	srv := ftptest.Start(t, ftptest.WithImplicitTLS(cert.Server))
//	client, err := ftp.Dial(ctx, srv.Addr(), ftp.WithImplicitTLS(cert.ClientConfig()))
package ftptest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Default credentials accepted by the server.
const (
	DefaultUser     = "user"
	DefaultPassword = "secret"
)

// ConnInfo describes a connection accepted or opened by the server.
type ConnInfo struct {
	// Kind is "control" or "data".
	Kind string

	// TLS reports whether the connection was TLS when first used.
	TLS bool

	// Version is the negotiated TLS version, zero for plaintext.
	Version uint16
}

type failure struct {
	path    string
	code    int
	message string
}

// Server is an FTP server listening on a loopback address.
type Server struct {
	fs        afero.Fs
	listener  net.Listener
	tlsConfig *tls.Config
	implicit  bool
	user      string
	password  string
	welcome   string
	noEPSV    bool
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	failures map[string][]failure
	commands []string
	conns    []ConnInfo
	open     map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server) error

// WithFs serves fs instead of a fresh in-memory filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Server) error {
		if fs == nil {
			return errors.New("filesystem must not be nil")
		}
		s.fs = fs
		return nil
	}
}

// WithTLS enables explicit TLS (AUTH TLS) using config.
func WithTLS(config *tls.Config) Option {
	return func(s *Server) error {
		if config == nil {
			return errors.New("TLS config must not be nil")
		}
		s.tlsConfig = config
		return nil
	}
}

// WithImplicitTLS makes every connection TLS from the first byte.
func WithImplicitTLS(config *tls.Config) Option {
	return func(s *Server) error {
		if config == nil {
			return errors.New("TLS config must not be nil")
		}
		s.tlsConfig = config
		s.implicit = true
		return nil
	}
}

// WithCredentials sets the only user and password the server accepts.
func WithCredentials(user, password string) Option {
	return func(s *Server) error {
		s.user = user
		s.password = password
		return nil
	}
}

// WithWelcome sets the greeting. A message containing newlines is sent as
// a multi-line reply.
func WithWelcome(message string) Option {
	return func(s *Server) error {
		s.welcome = message
		return nil
	}
}

// WithoutEPSV makes the server answer EPSV with 502.
func WithoutEPSV() Option {
	return func(s *Server) error {
		s.noEPSV = true
		return nil
	}
}

// WithLogger sets the logger for session events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// New starts a server on 127.0.0.1 with an OS-assigned port.
func New(options ...Option) (*Server, error) {
	s := &Server{
		user:     DefaultUser,
		password: DefaultPassword,
		welcome:  "ftptest ready",
		logger:   slog.New(slog.DiscardHandler),
		failures: make(map[string][]failure),
		open:     make(map[net.Conn]struct{}),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.fs == nil {
		s.fs = afero.NewMemMapFs()
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	if s.implicit {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.group, s.ctx = errgroup.WithContext(s.ctx)
	s.group.Go(s.serve)
	return s, nil
}

// Start is New for tests: it fails tb on error and closes the server
// during cleanup.
func Start(tb testing.TB, options ...Option) *Server {
	tb.Helper()
	s, err := New(options...)
	if err != nil {
		tb.Fatalf("ftptest: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

func (s *Server) serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.track(conn, true)
		s.group.Go(func() error {
			defer s.track(conn, false)
			newSession(s, conn).serve()
			return nil
		})
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.open[conn] = struct{}{}
	} else {
		delete(s.open, conn)
	}
}

// Close stops the listener, closes every open connection and waits for all
// sessions to end.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.open {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if werr := s.group.Wait(); werr != nil {
		return werr
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr returns the listening address as "host:port".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Fs returns the served filesystem.
func (s *Server) Fs() afero.Fs {
	return s.fs
}

// Fail makes every later cmd reply with code and message instead of being
// executed.
func (s *Server) Fail(cmd string, code int, message string) {
	s.FailPath(cmd, "", code, message)
}

// FailPath is Fail restricted to commands whose resolved argument is path.
func (s *Server) FailPath(cmd, path string, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd = strings.ToUpper(cmd)
	s.failures[cmd] = append(s.failures[cmd], failure{path: path, code: code, message: message})
}

// Reset removes every injected failure.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string][]failure)
}

func (s *Server) failureFor(cmd, path string) (failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.failures[cmd] {
		if f.path == "" || f.path == path {
			return f, true
		}
	}
	return failure{}, false
}

// Commands returns every command line received so far, passwords redacted.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// CommandNames returns the verb of every command received so far.
func (s *Server) CommandNames() []string {
	cmds := s.Commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i], _, _ = strings.Cut(c, " ")
	}
	return names
}

// Conns returns every connection the server has used so far.
func (s *Server) Conns() []ConnInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnInfo(nil), s.conns...)
}

func (s *Server) record(line string) {
	if verb, _, _ := strings.Cut(line, " "); strings.EqualFold(verb, "PASS") {
		line = "PASS ***"
	}
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *Server) recordConn(kind string, conn net.Conn) {
	info := ConnInfo{Kind: kind}
	if tc, ok := conn.(*tls.Conn); ok {
		state := tc.ConnectionState()
		info.TLS = state.HandshakeComplete
		info.Version = state.Version
	}
	s.mu.Lock()
	s.conns = append(s.conns, info)
	s.mu.Unlock()
}
