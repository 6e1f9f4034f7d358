package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/tomhayes/dispatchd/internal/config"
	"github.com/tomhayes/dispatchd/internal/server"
)

// pidFileName is spec §6's "service_pid": the textual pid of the live
// daemon, used by a new start to detect an already-running instance.
const pidFileName = "service_pid"

// shutdownTimeout bounds how long start waits for a graceful stop once
// asked to, either by signal or by application context cancellation.
const shutdownTimeout = 30 * time.Second

type start struct {
	cfg config.Config
	srv *server.Server
}

// Start launches the daemon in the foreground: it verifies no other
// instance is running against the same data directory (spec §6 "start...
// verifying no live pid from prior service_pid"), then runs the
// Control-Channel Server until it receives a shutdown command or a
// termination signal.
func Start() *cobra.Command {
	var s start

	cmd := cobra.Command{
		Use:   "start",
		Short: "Start the job dispatcher daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.run(cmd.Context())
		},
	}

	s.cfg.ServeFlags(&cmd)

	return &cmd
}

func (s *start) run(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	pidPath := filepath.Join(s.cfg.DataDir, pidFileName)
	if err := s.checkExistingInstance(pidPath); err != nil {
		return err
	}

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}

	var err error
	if s.srv, err = server.New(server.Config{
		DataDir:     s.cfg.DataDir,
		LogDir:      s.cfg.LogDir,
		MetricsAddr: s.cfg.MetricsAddr,
	}); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer close(done)
		err = s.srv.Serve()
	}()

	select {
	case <-done:
		return err
	case sig := <-sigCh:
		slog.Warn("caught signal", "sig", sig)
		return s.gracefulStop()
	case <-ctx.Done():
		slog.Warn("application context done", "err", ctx.Err())
		return s.gracefulStop()
	}
}

// checkExistingInstance returns an error if pidPath names a pid that is
// still alive, matching spec §6's exit-code contract ("nonzero on the
// client-side pre-checks").
func (s *start) checkExistingInstance(pidPath string) error {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil
	}

	if pidAlive(pid) {
		return fmt.Errorf("a dispatchd instance is already running with pid %d; stop it first with `dispatchd stop`", pid)
	}

	return nil
}

func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, unix.ESRCH)
}

func (s *start) gracefulStop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = s.srv.GracefulStop()
	}()

	select {
	case <-done:
		slog.Info("shutdown gracefully")
		return nil
	case <-ctx.Done():
		slog.Warn("timed out waiting to shutdown")
		return ctx.Err()
	}
}
