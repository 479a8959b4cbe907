package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/absfs/branchfs"
	"github.com/absfs/branchfs/config"
	"github.com/absfs/branchfs/fusefs"
	"github.com/absfs/branchfs/internal/logger"
	"github.com/absfs/branchfs/metrics"
)

func mountCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount the union at a directory",
		Long: `Mount the union at a directory.

The command stays in the foreground until it is interrupted or the
filesystem is unmounted with fusermount -u.
`,
		Example: `  branchfs mount --dirs /srv/rw=RW:/srv/base=RO /mnt/union`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			return MountCmd(cmd.Context(), cfg, args[0])
		},
	}
	flags.register(cmd)

	f := cmd.Flags()
	f.String("fsname", "", "mount source shown in /proc/mounts")
	f.Bool("allow-other", false, "allow other users to access the mount")
	f.Bool("relaxed-permissions", false, "leave permission checks to the branches")
	f.Uint64("max-files", 0, "raise the open file limit before mounting")
	f.Bool("debug", false, "log every kernel request")
	f.Bool("metrics", false, "serve Prometheus metrics")
	f.String("metrics-listen", "", "address of the metrics endpoint (default 127.0.0.1:9102)")

	return cmd
}

// MountCmd mounts the union described by cfg at mountpoint and serves it
// until ctx is done or the filesystem is unmounted.
func MountCmd(ctx context.Context, cfg *config.Config, mountpoint string) error {
	closeLog, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Mount.MaxFiles > 0 {
		if err := raiseFileLimit(cfg.Mount.MaxFiles); err != nil {
			return fmt.Errorf("failed to raise open file limit: %w", err)
		}
	}

	opts := cfg.Options()
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		opts = append(opts, branchfs.WithMetrics(metrics.NewBranchMetrics()))

		srv := metricsServer(cfg.Metrics.Listen)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server: %v", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics on %s/metrics", cfg.Metrics.Listen)
	}

	fsys, err := branchfs.New(opts...)
	if err != nil {
		return err
	}
	defer fsys.Close()

	for i := 0; i < fsys.Branches().Count(); i++ {
		b := fsys.Branches().Branch(i)
		mode := "RO"
		if b.Writable {
			mode = "RW"
		}
		logger.Info("branch %d: %s (%s)", i, b.Root, mode)
	}

	server, err := fusefs.Mount(mountpoint, fsys, fusefs.Options{
		FSName:             cfg.Mount.FSName,
		AllowOther:         cfg.Mount.AllowOther,
		RelaxedPermissions: cfg.Mount.RelaxedPermissions,
		Debug:              cfg.Mount.Debug,
		EntryTimeout:       cfg.Mount.EntryTimeout,
		AttrTimeout:        cfg.Mount.AttrTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", mountpoint, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, unmounting %s", mountpoint)
			if err := server.Unmount(); err != nil {
				logger.Error("unmount %s: %v", mountpoint, err)
			}
		case <-done:
		}
	}()

	server.Wait()
	close(done)
	logger.Info("unmounted %s", mountpoint)
	return nil
}

// setupLogging applies the logging configuration and returns a function
// that flushes and closes the log output.
func setupLogging(cfg config.LoggingConfig) (func(), error) {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)

	var out io.WriteCloser
	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr", "":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		out = f
	}

	if cfg.QueueSize > 0 {
		if err := logger.Start(cfg.QueueSize); err != nil {
			return nil, err
		}
	}

	return func() {
		if cfg.QueueSize > 0 {
			if dropped := logger.Stop(); dropped > 0 {
				fmt.Fprintf(os.Stderr, "branchfs: %d log records dropped\n", dropped)
			}
		}
		if out != nil {
			logger.SetOutput(os.Stderr)
			out.Close()
		}
	}, nil
}

// raiseFileLimit raises the soft open file limit to n, and the hard limit
// too when n exceeds it.
func raiseFileLimit(n uint64) error {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return err
	}
	if lim.Cur >= n {
		return nil
	}
	lim.Cur = n
	if lim.Max < n {
		lim.Max = n
	}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return err
	}
	logger.Debug("open file limit raised to %d", n)
	return nil
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
