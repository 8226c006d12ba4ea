package ftpstore

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gonzalop/ftpstore/internal/ftptest"
	"github.com/stretchr/testify/require"
)

// countingDialer dials through a net.Dialer and counts the attempts.
type countingDialer struct {
	calls atomic.Int32
	d     net.Dialer
}

func (c *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	c.calls.Add(1)
	return c.d.DialContext(ctx, network, address)
}

type opRecord struct {
	op      string
	success bool
}

type transferRecord struct {
	direction string
	bytes     int64
}

type sessionRecord struct {
	encryption string
	success    bool
}

// recordingMetrics keeps every measurement it receives.
type recordingMetrics struct {
	mu         sync.Mutex
	operations []opRecord
	transfers  []transferRecord
	sessions   []sessionRecord
}

func (m *recordingMetrics) RecordOperation(op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, opRecord{op, success})
}

func (m *recordingMetrics) RecordTransfer(direction string, bytes int64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, transferRecord{direction, bytes})
}

func (m *recordingMetrics) RecordSession(encryption string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, sessionRecord{encryption, success})
}

func testBackend(srv *ftptest.Server) Backend {
	return Backend{
		Host:       srv.Host(),
		Port:       srv.Port(),
		Login:      ftptest.DefaultUser,
		Password:   ftptest.DefaultPassword,
		Encryption: EncryptionPlain,
		Passive:    true,
		Root:       "/store",
	}
}

func newTestAdapter(t *testing.T, b Backend, opts ...Option) *FTPAdapter {
	t.Helper()
	opts = append([]Option{WithTimeout(5 * time.Second)}, opts...)
	a, err := NewFTPAdapter(b, opts...)
	require.NoError(t, err)
	return a
}

// startStore starts a plain server with an empty /store root.
func startStore(t *testing.T, opts ...ftptest.Option) *ftptest.Server {
	t.Helper()
	srv := ftptest.Start(t, opts...)
	require.NoError(t, srv.Fs().MkdirAll("/store", 0o755))
	return srv
}

func newCert(t *testing.T) *ftptest.Certificate {
	t.Helper()
	cert, err := ftptest.NewCertificate()
	require.NoError(t, err)
	return cert
}
