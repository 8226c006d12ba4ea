package main

import (
	"bytes"
	"context"
	"encoding/pem"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gonzalop/ftpstore"
	"github.com/gonzalop/ftpstore/internal/ftptest"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func run(fs afero.Fs, stdin string, args ...string) result {
	var stdout, stderr bytes.Buffer
	a := newApp(strings.NewReader(stdin), &stdout, &stderr, fs)
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func serverArgs(srv *ftptest.Server, args ...string) []string {
	return append([]string{
		"--host", srv.Host(),
		"--port", strconv.Itoa(srv.Port()),
		"--user", ftptest.DefaultUser,
		"--password", ftptest.DefaultPassword,
		"--timeout", "5s",
	}, args...)
}

func TestCommands(t *testing.T) {
	t.Parallel()
	srv := ftptest.Start(t)
	local := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(local, "/tmp/report.csv", []byte("a,b\n1,2\n"), 0o644))

	r := run(local, "", serverArgs(srv, "put", "/tmp/report.csv", "2024/report.csv")...)
	require.NoError(t, r.err)

	r = run(local, "", serverArgs(srv, "get", "2024/report.csv")...)
	require.NoError(t, r.err)
	assert.Equal(t, "a,b\n1,2\n", r.stdout)

	r = run(local, "", serverArgs(srv, "get", "2024/report.csv", "/tmp/copy.csv")...)
	require.NoError(t, r.err)
	data, err := afero.ReadFile(local, "/tmp/copy.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	r = run(local, "from stdin", serverArgs(srv, "put", "-", "2024/notes.txt")...)
	require.NoError(t, r.err)

	r = run(local, "", serverArgs(srv, "ls", "2024")...)
	require.NoError(t, r.err)
	assert.ElementsMatch(t, []string{"report.csv", "notes.txt"}, strings.Fields(r.stdout))

	require.NoError(t, srv.Fs().MkdirAll("/archive", 0o755))
	r = run(local, "", serverArgs(srv, "mv", "archive", "2024/report.csv", "2024/notes.txt")...)
	require.NoError(t, r.err)

	r = run(local, "", serverArgs(srv, "ls", "archive")...)
	require.NoError(t, r.err)
	assert.ElementsMatch(t, []string{"report.csv", "notes.txt"}, strings.Fields(r.stdout))

	r = run(local, "", serverArgs(srv, "rm", "archive/notes.txt")...)
	require.NoError(t, r.err)

	r = run(local, "", serverArgs(srv, "get", "archive/notes.txt")...)
	require.Error(t, r.err)
	assert.Equal(t, "not found", kindName(r.err))

	r = run(local, "", serverArgs(srv, "ls", "missing")...)
	require.NoError(t, r.err)
	assert.Empty(t, r.stdout)
}

func TestCommands_ActiveMode(t *testing.T) {
	t.Parallel()
	srv := ftptest.Start(t)

	r := run(afero.NewMemMapFs(), "x", serverArgs(srv, "--passive=false", "put", "-", "x.txt")...)
	require.NoError(t, r.err)
	assert.Contains(t, srv.CommandNames(), "PORT")
	assert.NotContains(t, srv.CommandNames(), "EPSV")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	srv := ftptest.Start(t, ftptest.WithWelcome("hello from the test server"))

	r := run(afero.NewMemMapFs(), "", serverArgs(srv, "validate")...)
	require.NoError(t, r.err)
	assert.Equal(t, "hello from the test server\n", r.stdout)

	r = run(afero.NewMemMapFs(), "", serverArgs(srv, "--password", "nope", "validate")...)
	require.Error(t, r.err)
	assert.Equal(t, "configuration", kindName(r.err))
	assert.ErrorIs(t, r.err, ftpstore.ErrAuthentication)
}

func TestConfigFile(t *testing.T) {
	t.Parallel()
	srv := ftptest.Start(t)
	require.NoError(t, srv.Fs().MkdirAll("/data", 0o755))

	fs := afero.NewMemMapFs()
	yaml := "host: " + srv.Host() + "\n" +
		"port: " + strconv.Itoa(srv.Port()) + "\n" +
		"user: " + ftptest.DefaultUser + "\n" +
		"password: " + ftptest.DefaultPassword + "\n" +
		"root: /data\n" +
		"timeout: 5s\n"
	require.NoError(t, afero.WriteFile(fs, "/etc/ftpstore.yaml", []byte(yaml), 0o600))

	r := run(fs, "cfg", "--config", "/etc/ftpstore.yaml", "put", "-", "c.txt")
	require.NoError(t, r.err)

	data, err := afero.ReadFile(srv.Fs(), "/data/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "cfg", string(data))

	// Flags win over the file.
	r = run(fs, "", "--config", "/etc/ftpstore.yaml", "--password", "wrong", "ls")
	assert.ErrorIs(t, r.err, ftpstore.ErrAuthentication)

	r = run(fs, "", "--config", "/etc/missing.yaml", "ls")
	assert.Error(t, r.err)
}

func TestEnvironment(t *testing.T) {
	srv := ftptest.Start(t)
	t.Setenv("FTPSTORE_HOST", srv.Host())
	t.Setenv("FTPSTORE_PORT", strconv.Itoa(srv.Port()))
	t.Setenv("FTPSTORE_USER", ftptest.DefaultUser)
	t.Setenv("FTPSTORE_PASSWORD", ftptest.DefaultPassword)
	t.Setenv("FTPSTORE_LOG_LEVEL", "debug")

	r := run(afero.NewMemMapFs(), "", "ls")
	require.NoError(t, r.err)
	assert.Contains(t, r.stderr, "level=DEBUG")
	assert.NotContains(t, r.stderr, ftptest.DefaultPassword)
}

func TestURL(t *testing.T) {
	t.Parallel()
	srv := ftptest.Start(t)
	require.NoError(t, srv.Fs().MkdirAll("/pub", 0o755))
	require.NoError(t, afero.WriteFile(srv.Fs(), "/pub/readme.txt", []byte("hi"), 0o644))

	url := "ftp://" + ftptest.DefaultUser + ":" + ftptest.DefaultPassword + "@" + srv.Addr() + "/pub"
	r := run(afero.NewMemMapFs(), "", "--url", url, "--timeout", "5s", "get", "readme.txt")
	require.NoError(t, r.err)
	assert.Equal(t, "hi", r.stdout)
}

func TestImplicitTLS(t *testing.T) {
	t.Parallel()
	cert, err := ftptest.NewCertificate()
	require.NoError(t, err)
	srv := ftptest.Start(t, ftptest.WithImplicitTLS(cert.Server))

	fs := afero.NewMemMapFs()
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Server.Certificates[0].Certificate[0]})
	require.NoError(t, afero.WriteFile(fs, "/ca.pem", caPEM, 0o644))

	args := serverArgs(srv, "--encryption", "implicit-tls", "--security", "tlsv1_3", "--ca-file", "/ca.pem")
	r := run(fs, "secret", append(args, "put", "-", "tls.txt")...)
	require.NoError(t, r.err)

	r = run(fs, "", append(args, "get", "tls.txt")...)
	require.NoError(t, r.err)
	assert.Equal(t, "secret", r.stdout)

	for _, info := range srv.Conns() {
		assert.True(t, info.TLS)
	}

	// Without the CA the certificate is not trusted.
	r = run(fs, "", serverArgs(srv, "--encryption", "implicit-tls", "ls")...)
	assert.ErrorIs(t, r.err, ftpstore.ErrTransport)

	r = run(fs, "", serverArgs(srv, "--encryption", "implicit-tls", "--security", "sslv3", "ls")...)
	assert.ErrorIs(t, r.err, ftpstore.ErrConfiguration)
}

func TestMetricsFlag(t *testing.T) {
	t.Parallel()
	srv := ftptest.Start(t)

	r := run(afero.NewMemMapFs(), "", serverArgs(srv, "--metrics", "ls")...)
	require.NoError(t, r.err)
	assert.Contains(t, r.stderr, `ftpstore_operations_total{operation="list",status="success"} 1`)
	assert.Contains(t, r.stderr, `ftpstore_sessions_total{encryption="plain",status="success"} 1`)
}

func TestSetupErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		kind string
	}{
		{"no host", []string{"ls"}, "configuration"},
		{"bad encryption", []string{"--host", "h", "--encryption", "ssh", "ls"}, "configuration"},
		{"bad security", []string{"--host", "h", "--security", "tlsv9", "ls"}, "configuration"},
		{"unknown protocol", []string{"--host", "h", "--protocol", "s3", "ls"}, "configuration"},
		{"bad url", []string{"--url", "gopher://h/", "ls"}, "configuration"},
		{"bad log level", []string{"--host", "h", "--log-level", "loud", "ls"}, "command"},
		{"missing local file", []string{"--host", "h", "put", "/nope", "x"}, "command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(afero.NewMemMapFs(), "", tt.args...)
			require.Error(t, r.err)
			assert.Equal(t, tt.kind, kindName(r.err))
		})
	}
}

func TestKindName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transport", kindName(&ftpstore.Error{Op: "get", Kind: ftpstore.ErrTransport, Err: errors.New("reset")}))
	assert.Equal(t, "write", kindName(&ftpstore.Error{Op: "add", Kind: ftpstore.ErrWrite}))
	assert.Equal(t, "invalid path", kindName(ftpstore.ErrInvalidPath))
	assert.Equal(t, "command", kindName(errors.New("other")))
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	flags := pflag.NewFlagSet("ftpstore", pflag.ContinueOnError)
	addConfigFlags(flags)
	require.NoError(t, flags.Parse([]string{"--timeout", "750ms", "--host", "h", "--bandwidth", "4096"}))

	v := viper.New()
	cfg, err := loadConfig(v, afero.NewMemMapFs(), flags)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.Equal(t, int64(4096), cfg.Bandwidth)
	assert.True(t, cfg.Passive)
	assert.Equal(t, "ftp", cfg.Protocol)
	assert.Equal(t, "warn", cfg.LogLevel)

	b, err := cfg.backend(v)
	require.NoError(t, err)
	assert.Equal(t, ftpstore.Backend{Host: "h", Encryption: ftpstore.EncryptionPlain, Passive: true}, b)
}

func TestBackendFromURL(t *testing.T) {
	t.Parallel()
	flags := pflag.NewFlagSet("ftpstore", pflag.ContinueOnError)
	addConfigFlags(flags)
	require.NoError(t, flags.Parse([]string{
		"--url", "ftps://u:p@ftp.example.com/in?passive=false",
		"--root", "/out",
	}))

	v := viper.New()
	cfg, err := loadConfig(v, afero.NewMemMapFs(), flags)
	require.NoError(t, err)
	b, err := cfg.backend(v)
	require.NoError(t, err)

	// Flags left at their defaults do not override the URL.
	assert.Equal(t, ftpstore.Backend{
		Host:       "ftp.example.com",
		Login:      "u",
		Password:   "p",
		Encryption: ftpstore.EncryptionImplicitTLS,
		Root:       "/out",
	}, b)
}
