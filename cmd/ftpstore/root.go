package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/gonzalop/ftpstore"
	"github.com/gonzalop/ftpstore/metrics"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app is the state shared by every command of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	fs     afero.Fs

	viper   *viper.Viper
	cfg     *config
	logger  *slog.Logger
	store   ftpstore.Adapter
	metrics *metrics.Collector
}

func newApp(stdin io.Reader, stdout, stderr io.Writer, fs afero.Fs) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		fs:     fs,
		viper:  viper.New(),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ftpstore",
		Short: "Store files on FTP and FTPS servers",
		Long: `ftpstore adds, fetches, lists, moves and deletes files on an FTP or FTPS
server, relative to a root directory.

Settings come from flags, FTPSTORE_* environment variables (FTPSTORE_HOST,
FTPSTORE_LOG_LEVEL, ...) and ftpstore.yaml, in that order.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.writeMetrics()
		},
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	addConfigFlags(root.PersistentFlags())

	root.AddCommand(
		newPutCmd(a),
		newGetCmd(a),
		newLsCmd(a),
		newMvCmd(a),
		newRmCmd(a),
		newValidateCmd(a),
	)
	return root
}

// setup loads the configuration and builds the adapter.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(a.viper, a.fs, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	backend, err := cfg.backend(a.viper)
	if err != nil {
		return err
	}
	tlsConfig, err := cfg.tlsConfig(a.fs)
	if err != nil {
		return err
	}

	opts := []ftpstore.Option{
		ftpstore.WithLogger(a.logger),
		ftpstore.WithTimeout(cfg.Timeout),
		ftpstore.WithBandwidthLimit(cfg.Bandwidth),
	}
	if tlsConfig != nil {
		opts = append(opts, ftpstore.WithTLSConfig(tlsConfig))
	}
	if cfg.Metrics {
		a.metrics = metrics.New()
		opts = append(opts, ftpstore.WithMetrics(a.metrics))
	}

	a.store, err = ftpstore.New(cfg.Protocol, backend, opts...)
	if err != nil {
		return err
	}
	a.logger.Debug("backend configured", "protocol", cfg.Protocol, "backend", backend.String())
	return nil
}

func (a *app) writeMetrics() error {
	if a.metrics == nil {
		return nil
	}
	return a.metrics.WriteText(a.stderr)
}

// welcomer is implemented by adapters that can report a server banner.
type welcomer interface {
	Welcome(ctx context.Context) (string, error)
}

// kindName names the error kind of err for the exit message.
func kindName(err error) string {
	switch ftpstore.KindOf(err) {
	case ftpstore.ErrConfiguration:
		return "configuration"
	case ftpstore.ErrAuthentication:
		return "authentication"
	case ftpstore.ErrWrite:
		return "write"
	case ftpstore.ErrNotFound:
		return "not found"
	case ftpstore.ErrInvalidPath:
		return "invalid path"
	case ftpstore.ErrTransport:
		return "transport"
	}
	return "command"
}
