package ftpstore

import (
	"context"
	"crypto/tls"
	"path"

	"github.com/gonzalop/ftpstore/ftp"
)

// session is one authenticated connection, used for a single operation.
type session struct {
	*ftp.Client

	// root is the backend root made absolute against the login directory.
	root string
}

// path maps a cleaned root-relative path to the remote path.
func (s *session) path(clean string) string {
	return joinRoot(s.root, clean)
}

// openSession connects, logs in and prepares the data channel policy.
// The caller must closeSession on every path.
func (a *FTPAdapter) openSession(ctx context.Context) (_ *session, err error) {
	b := a.backend
	defer func() {
		a.opts.metrics.RecordSession(string(b.Encryption), err == nil)
	}()

	choice, err := ResolveSecurity(b.Encryption, b.Security)
	if err != nil {
		return nil, asError("connect", "", ErrConfiguration, err)
	}

	clientOpts := []ftp.Option{
		ftp.WithTimeout(a.opts.timeout),
		ftp.WithLogger(a.opts.logger),
		ftp.WithBandwidthLimit(a.opts.bandwidth),
	}
	if a.opts.dialer != nil {
		clientOpts = append(clientOpts, ftp.WithDialer(a.opts.dialer))
	}
	if a.opts.observer != nil {
		clientOpts = append(clientOpts, ftp.WithConnObserver(a.opts.observer))
	}
	if !b.Passive {
		clientOpts = append(clientOpts, ftp.WithActiveMode())
	}

	switch b.Encryption {
	case EncryptionImplicitTLS:
		clientOpts = append(clientOpts, ftp.WithImplicitTLS(a.tlsConfig(choice)))
	case EncryptionExplicitTLS:
		clientOpts = append(clientOpts, ftp.WithExplicitTLS(a.tlsConfig(choice)))
	}

	a.opts.logger.Debug("opening ftp session", "backend", b.String(), "tls_version", choice.String())
	client, err := ftp.Dial(ctx, b.Addr(), clientOpts...)
	if err != nil {
		return nil, newError("connect", "", ErrTransport, err)
	}

	sess := &session{Client: client, root: b.Root}
	defer func() {
		if err != nil {
			a.closeSession(sess)
		}
	}()

	if err := client.Login(b.Login, b.Password); err != nil {
		return nil, newError("login", "", ErrAuthentication, err)
	}

	if b.Encryption.Secure() {
		if err := client.ProtectData(); err != nil {
			return nil, newError("connect", "", ErrTransport, err)
		}
	}

	// A relative root is relative to the login directory; pin it down so
	// directory changes during the operation cannot move it.
	if !path.IsAbs(sess.root) {
		pwd, err := client.CurrentDir()
		if err != nil {
			return nil, newError("connect", "", ErrTransport, err)
		}
		sess.root = path.Join(pwd, sess.root)
	}

	return sess, nil
}

// tlsConfig returns the session's TLS configuration with the version
// choice applied.
func (a *FTPAdapter) tlsConfig(choice ProtocolChoice) *tls.Config {
	var cfg *tls.Config
	if a.opts.tlsConfig != nil {
		cfg = a.opts.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = a.backend.Host
	}
	choice.Apply(cfg)
	return cfg
}

// closeSession sends QUIT and closes the connection. Errors are logged and
// dropped.
func (a *FTPAdapter) closeSession(s *session) {
	if err := s.Quit(); err != nil {
		a.opts.logger.Debug("closing ftp session", "error", err)
	}
}
