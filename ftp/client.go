package ftp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gonzalop/ftpstore/internal/ratelimit"
)

// Client is one FTP control connection and the data connections opened
// through it. A Client runs one command at a time; it is not meant to be
// shared between goroutines beyond Abort.
type Client struct {
	// conn is the control connection, TLS-wrapped when TLS is active
	conn net.Conn

	// reader is a buffered reader for the control channel
	reader *bufio.Reader

	// ctx bounds every dial made by the client
	ctx context.Context

	// stopAbort detaches the context cancellation hook
	stopAbort func() bool

	tlsConfig *tls.Config
	tlsMode   tlsMode

	// protected is set once PROT P has been accepted
	protected bool

	timeout   time.Duration
	logger    *slog.Logger
	dialer    Dialer
	observer  ConnObserver
	bandwidth int64
	limiter   *ratelimit.Limiter

	host string
	port string

	// welcome is the server greeting
	welcome string

	activeMode  bool
	disableEPSV bool

	// currentType tracks the transfer type to avoid redundant TYPE commands
	currentType string

	// mu serializes control channel exchanges
	mu sync.Mutex

	// dataMu guards activeData
	dataMu     sync.Mutex
	activeData net.Conn

	closeOnce sync.Once
}

// Dial connects to the FTP server at addr ("host:port") and reads its
// greeting. With explicit TLS the control connection is upgraded before
// Dial returns; with implicit TLS it is encrypted from the first byte.
//
// ctx bounds the dial. If ctx is cancelled while the client is in use, the
// control connection and any open data connection are closed so blocked
// calls return promptly.
//
//	client, err := ftp.Dial(ctx, "ftp.example.com:990",
//	    ftp.WithImplicitTLS(&tls.Config{ServerName: "ftp.example.com"}),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Quit()
func Dial(ctx context.Context, addr string, options ...Option) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	c := &Client{
		ctx:     ctx,
		host:    host,
		port:    port,
		timeout: 30 * time.Second,
		tlsMode: tlsModeNone,
		logger:  slog.New(slog.DiscardHandler),
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.dialer == nil {
		c.dialer = &net.Dialer{Timeout: c.timeout}
	}
	c.limiter = ratelimit.New(c.bandwidth)

	if err := c.connect(); err != nil {
		return nil, err
	}

	c.stopAbort = context.AfterFunc(ctx, c.abort)
	return c, nil
}

// connect establishes the control connection and handles the initial handshake.
func (c *Client) connect() error {
	addr := net.JoinHostPort(c.host, c.port)
	c.logger.Debug("connecting to ftp server", "addr", addr, "tls_mode", c.tlsMode)

	raw, err := c.dialer.DialContext(c.ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = c.attach("control", raw, c.tlsMode == tlsModeImplicit)
	if c.tlsMode == tlsModeImplicit {
		if err := c.handshake(c.conn); err != nil {
			c.conn.Close()
			return err
		}
	}
	c.reader = bufio.NewReader(c.conn)

	resp, err := c.readReply()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to read greeting: %w", err)
	}
	c.logger.Debug("ftp greeting", "code", resp.Code, "message", resp.Message)

	if resp.Code != 220 {
		c.conn.Close()
		return resp.err("CONNECT")
	}
	c.welcome = resp.Message

	if c.tlsMode == tlsModeExplicit {
		if err := c.upgradeToTLS(); err != nil {
			c.conn.Close()
			return err
		}
	}
	return nil
}

// attach is the single point where sockets become part of the client.
// When secure is set the socket is wrapped in TLS unless it already is one;
// the handshake itself happens on first use or through handshake.
func (c *Client) attach(kind string, conn net.Conn, secure bool) net.Conn {
	if secure {
		if _, ok := conn.(*tls.Conn); !ok {
			conn = tls.Client(conn, c.tlsConfig)
		}
	}
	if c.observer != nil {
		c.observer(kind, conn)
	}
	return conn
}

// handshake completes the TLS handshake on conn if it is a TLS socket.
func (c *Client) handshake(conn net.Conn) error {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	if c.timeout > 0 {
		if err := tlsConn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("failed to set deadline: %w", err)
		}
		defer tlsConn.SetDeadline(time.Time{})
	}
	if err := tlsConn.HandshakeContext(c.ctx); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}
	c.logger.Debug("TLS handshake complete", "mode", c.tlsMode)
	return nil
}

// upgradeToTLS switches the control connection to TLS with AUTH TLS.
func (c *Client) upgradeToTLS() error {
	if _, err := c.expectCode(234, "AUTH", "TLS"); err != nil {
		return fmt.Errorf("AUTH TLS failed: %w", err)
	}

	conn := c.attach("control", c.conn, true)
	if err := c.handshake(conn); err != nil {
		return err
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// secureData reports whether data connections must be TLS-wrapped.
func (c *Client) secureData() bool {
	return c.tlsMode == tlsModeImplicit || (c.tlsMode == tlsModeExplicit && c.protected)
}

// Login authenticates with USER and, when asked for it, PASS.
func (c *Client) Login(username, password string) error {
	resp, err := c.sendCommand("USER", username)
	if err != nil {
		return err
	}

	switch resp.Code {
	case 230:
		return nil
	case 331, 332:
	default:
		return resp.err("USER")
	}

	_, err = c.expectCode(230, "PASS", password)
	return err
}

// ProtectData enables encryption of the data channel (PBSZ 0 + PROT P).
// It fails on a plaintext client.
func (c *Client) ProtectData() error {
	if c.tlsMode == tlsModeNone {
		return fmt.Errorf("data protection requires a TLS connection")
	}
	if _, err := c.expect2xx("PBSZ", "0"); err != nil {
		return fmt.Errorf("PBSZ failed: %w", err)
	}
	if _, err := c.expect2xx("PROT", "P"); err != nil {
		return fmt.Errorf("PROT failed: %w", err)
	}
	c.protected = true
	return nil
}

// Welcome returns the message the server sent in its 220 greeting.
func (c *Client) Welcome() string {
	return c.welcome
}

// Noop sends a NOOP command.
func (c *Client) Noop() error {
	_, err := c.expect2xx("NOOP")
	return err
}

// Type sets the transfer type (e.g., "A", "I").
func (c *Client) Type(transferType string) error {
	if c.currentType == transferType {
		return nil
	}
	if _, err := c.expectCode(200, "TYPE", transferType); err != nil {
		return err
	}
	c.currentType = transferType
	return nil
}

// Quit sends QUIT and closes the connection. An interrupted transfer is
// aborted by closing its data connection. Calling Quit more than once is safe.
func (c *Client) Quit() error {
	var err error
	c.closeOnce.Do(func() {
		if c.stopAbort != nil {
			c.stopAbort()
		}
		c.closeData()
		_, _ = c.sendCommand("QUIT")
		err = c.conn.Close()
	})
	return err
}

// abort tears the connection down without a QUIT exchange.
func (c *Client) abort() {
	c.logger.Debug("context done, closing ftp connection")
	c.closeData()
	_ = c.conn.Close()
}

func (c *Client) closeData() {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.activeData != nil {
		_ = c.activeData.Close()
		c.activeData = nil
	}
}

// limitReader applies the bandwidth limit, if any, to r.
func (c *Client) limitReader(r io.Reader) io.Reader {
	return ratelimit.NewReader(c.ctx, r, c.limiter)
}

// limitWriter applies the bandwidth limit, if any, to w.
func (c *Client) limitWriter(w io.Writer) io.Writer {
	return ratelimit.NewWriter(c.ctx, w, c.limiter)
}
