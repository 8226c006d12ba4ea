package ftpstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/gonzalop/ftpstore/ftp"
)

// Adapter is the storage contract implemented by every backend protocol.
// Paths are relative to the backend root.
type Adapter interface {
	// Add stores data at path, creating missing parent directories.
	// An existing file is overwritten.
	Add(ctx context.Context, path string, data []byte) error

	// Get returns the content stored at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// List returns the names under path, or an empty slice when path does
	// not exist.
	List(ctx context.Context, path string) ([]string, error)

	// MoveFiles moves each file into dest, keeping its base name and
	// replacing any existing file there. Moves run in order and stop at
	// the first failure; earlier moves are not rolled back.
	MoveFiles(ctx context.Context, files []string, dest string) error

	// Delete removes the file at path.
	Delete(ctx context.Context, path string) error

	// ValidateConfig checks that a session can be opened and used.
	ValidateConfig(ctx context.Context) error
}

// FTPAdapter implements Adapter over FTP and FTPS. Every call opens its own
// session and closes it before returning, so an FTPAdapter is safe for
// concurrent use.
type FTPAdapter struct {
	backend Backend
	opts    options
}

var _ Adapter = (*FTPAdapter)(nil)

// NewFTPAdapter returns an adapter for backend. Only static configuration
// is checked here; ValidateConfig talks to the server. An empty Encryption
// means plain FTP, while Passive is taken as given, so a Backend literal
// without Passive: true uses active mode.
func NewFTPAdapter(backend Backend, opts ...Option) (*FTPAdapter, error) {
	if backend.Encryption == "" {
		backend.Encryption = EncryptionPlain
	}
	if err := backend.Validate(); err != nil {
		return nil, asError("new", "", ErrConfiguration, err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &FTPAdapter{backend: backend, opts: o}, nil
}

// Backend returns a copy of the adapter's configuration.
func (a *FTPAdapter) Backend() Backend {
	return a.backend
}

// do runs one operation with logging and metrics around it.
func (a *FTPAdapter) do(op, p string, fn func() error) (err error) {
	start := time.Now()
	a.opts.logger.Debug("ftpstore operation", "op", op, "path", p)
	defer func() {
		elapsed := time.Since(start)
		a.opts.metrics.RecordOperation(op, err == nil, elapsed)
		if err != nil {
			a.opts.logger.Debug("ftpstore operation failed", "op", op, "path", p, "duration", elapsed, "reply", replyClass(err), "error", err)
		}
	}()
	return fn()
}

// replyClass names the kind of negative server reply in err, if any.
func replyClass(err error) string {
	var pe *ftp.ProtocolError
	switch {
	case !errors.As(err, &pe):
		return "none"
	case pe.IsTemporary():
		return "transient"
	case pe.IsPermanent():
		return "permanent"
	}
	return "unexpected"
}

// withSession opens a session, runs fn and closes the session.
func (a *FTPAdapter) withSession(ctx context.Context, fn func(*session) error) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer a.closeSession(s)
	return fn(s)
}

// Add uploads data to path in binary mode. If the parent directory does
// not exist it is created, parents first.
func (a *FTPAdapter) Add(ctx context.Context, p string, data []byte) error {
	return a.do("add", p, func() error {
		rel, err := cleanRelative(p)
		if err != nil {
			return err
		}

		return a.withSession(ctx, func(s *session) error {
			full := s.path(rel)
			if dir := path.Dir(full); dir != "." && dir != "/" {
				if err := s.ChangeDir(dir); err != nil {
					if !missing(err) {
						return newError("add", full, ErrTransport, err)
					}
					if err := EnsureDirectory(ctx, s, dir); err != nil {
						return err
					}
				}
			}

			start := time.Now()
			n, err := s.Store(full, bytes.NewReader(data))
			if err != nil {
				return newError("add", full, ErrWrite, err)
			}
			a.opts.metrics.RecordTransfer("upload", n, time.Since(start))
			return nil
		})
	})
}

// Get downloads path. Any negative server reply is reported as
// ErrNotFound; network failures as ErrTransport.
func (a *FTPAdapter) Get(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := a.do("get", p, func() error {
		rel, err := cleanRelative(p)
		if err != nil {
			return err
		}

		return a.withSession(ctx, func(s *session) error {
			full := s.path(rel)
			var buf bytes.Buffer
			start := time.Now()
			n, err := s.Retrieve(full, &buf)
			if err != nil {
				var pe *ftp.ProtocolError
				if errors.As(err, &pe) {
					return newError("get", full, ErrNotFound, err)
				}
				return newError("get", full, ErrTransport, err)
			}
			a.opts.metrics.RecordTransfer("download", n, time.Since(start))

			data = buf.Bytes()
			if data == nil {
				data = []byte{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List returns the names the server reports for path (NLST), unchanged.
// A missing path yields an empty slice and no error.
func (a *FTPAdapter) List(ctx context.Context, p string) ([]string, error) {
	names := []string{}
	err := a.do("list", p, func() error {
		rel, err := cleanRelative(p)
		if err != nil {
			return err
		}

		return a.withSession(ctx, func(s *session) error {
			full := s.path(rel)
			got, err := s.NameList(full)
			if err != nil {
				if missing(err) {
					a.opts.logger.Debug("listing missing path", "path", full, "error", err)
					return nil
				}
				return newError("list", full, ErrTransport, err)
			}
			names = append(names, got...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

type move struct {
	from, to string
}

// MoveFiles moves files into dest in one session. Each destination is
// probed with NLST; an existing file there is deleted before the rename.
// A failed probe is taken to mean the destination is free. Any delete or
// rename failure stops the batch with ErrTransport; completed moves stay.
func (a *FTPAdapter) MoveFiles(ctx context.Context, files []string, dest string) error {
	return a.do("move", dest, func() error {
		if len(files) == 0 {
			return nil
		}

		// Resolve everything up front so a bad path fails the whole batch
		// before anything is moved.
		rels := make([]move, 0, len(files))
		for _, f := range files {
			from, err := cleanRelative(f)
			if err != nil {
				return err
			}
			to, err := cleanRelative(path.Join(dest, path.Base(f)))
			if err != nil {
				return err
			}
			rels = append(rels, move{from: from, to: to})
		}

		return a.withSession(ctx, func(s *session) error {
			for _, m := range rels {
				if err := ctx.Err(); err != nil {
					return newError("move", s.path(m.from), ErrTransport, err)
				}

				from, to := s.path(m.from), s.path(m.to)
				existing, err := s.NameList(to)
				if err != nil {
					a.opts.logger.Debug("destination is free", "path", to, "reply", replyClass(err), "error", err)
				}
				if len(existing) > 0 {
					if err := s.Delete(to); err != nil {
						return newError("move", to, ErrTransport, err)
					}
				}
				if err := s.Rename(from, to); err != nil {
					return newError("move", from, ErrTransport, err)
				}
				a.opts.logger.Debug("moved file", "from", from, "to", to)
			}
			return nil
		})
	})
}

// Delete removes the file at path. Failures are ErrTransport; when the
// server says the file does not exist the error also matches ErrNotFound.
func (a *FTPAdapter) Delete(ctx context.Context, p string) error {
	return a.do("delete", p, func() error {
		rel, err := cleanRelative(p)
		if err != nil {
			return err
		}

		return a.withSession(ctx, func(s *session) error {
			full := s.path(rel)
			if err := s.Delete(full); err != nil {
				if ftp.IsNotExist(err) {
					return newError("delete", full, ErrNotFound, fmt.Errorf("%w: %w", ErrTransport, err))
				}
				return newError("delete", full, ErrTransport, err)
			}
			return nil
		})
	})
}

// Welcome opens a session and returns the server's greeting.
func (a *FTPAdapter) Welcome(ctx context.Context) (string, error) {
	var banner string
	err := a.do("validate", "", func() error {
		return a.withSession(ctx, func(s *session) error {
			banner = s.Client.Welcome()
			a.opts.logger.Debug("ftp welcome", "banner", banner)
			return s.Noop()
		})
	})
	if err != nil {
		return "", newError("validate", "", ErrConfiguration, err)
	}
	return banner, nil
}

// ValidateConfig opens a session, reads the greeting and closes it. Any
// failure is reported as ErrConfiguration wrapping the cause.
func (a *FTPAdapter) ValidateConfig(ctx context.Context) error {
	_, err := a.Welcome(ctx)
	return err
}
