package ftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Option is a functional option for configuring an FTP client.
type Option func(*Client) error

// Dialer establishes the network connections used by the client, for the
// control channel and for passive data channels. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnObserver is called every time a socket is attached to the client,
// after any TLS wrapping and before a single byte is exchanged on it.
// kind is "control" or "data".
type ConnObserver func(kind string, conn net.Conn)

// tlsMode represents the TLS mode for the connection.
type tlsMode int

const (
	tlsModeNone tlsMode = iota
	tlsModeExplicit
	tlsModeImplicit
)

func (m tlsMode) String() string {
	switch m {
	case tlsModeExplicit:
		return "explicit"
	case tlsModeImplicit:
		return "implicit"
	default:
		return "none"
	}
}

// WithTimeout sets the deadline applied to the dial, to every command
// exchange and to every read or write on a data connection.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.timeout = timeout
		return nil
	}
}

// WithExplicitTLS enables explicit TLS mode (AUTH TLS).
// The control connection starts in plaintext and is upgraded right after
// the greeting. Data connections are encrypted once ProtectData succeeds.
func WithExplicitTLS(config *tls.Config) Option {
	return func(c *Client) error {
		if c.tlsMode == tlsModeImplicit {
			return fmt.Errorf("explicit TLS cannot be combined with implicit TLS")
		}
		c.tlsConfig = withSessionCache(config)
		c.tlsMode = tlsModeExplicit
		return nil
	}
}

// WithImplicitTLS enables implicit TLS mode.
// Every socket the client attaches, the control connection and each data
// connection, is wrapped in TLS before any protocol exchange takes place.
func WithImplicitTLS(config *tls.Config) Option {
	return func(c *Client) error {
		if c.tlsMode == tlsModeExplicit {
			return fmt.Errorf("implicit TLS cannot be combined with explicit TLS")
		}
		c.tlsConfig = withSessionCache(config)
		c.tlsMode = tlsModeImplicit
		return nil
	}
}

// withSessionCache returns a copy of config with a client session cache so
// data connections can resume the control connection's TLS session.
func withSessionCache(config *tls.Config) *tls.Config {
	if config == nil {
		config = &tls.Config{}
	} else {
		config = config.Clone()
	}
	if config.ClientSessionCache == nil {
		config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}
	return config
}

// WithLogger enables debug logging using the provided logger.
// Commands and replies are logged at debug level; passwords are redacted.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithDialer sets the dialer used for the control connection and for
// passive data connections.
func WithDialer(dialer Dialer) Option {
	return func(c *Client) error {
		if dialer == nil {
			return fmt.Errorf("dialer must not be nil")
		}
		c.dialer = dialer
		return nil
	}
}

// WithActiveMode enables active mode (PORT/EPRT) instead of passive mode
// (EPSV/PASV). The client listens and the server connects back to it.
func WithActiveMode() Option {
	return func(c *Client) error {
		c.activeMode = true
		return nil
	}
}

// WithDisableEPSV makes passive mode go straight to PASV.
func WithDisableEPSV() Option {
	return func(c *Client) error {
		c.disableEPSV = true
		return nil
	}
}

// WithBandwidthLimit caps data transfers to bytesPerSecond.
// Zero or a negative value disables the limit.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.bandwidth = bytesPerSecond
		return nil
	}
}

// WithConnObserver registers fn to be called for every attached socket.
func WithConnObserver(fn ConnObserver) Option {
	return func(c *Client) error {
		c.observer = fn
		return nil
	}
}
