// Package server implements the Control-Channel Server: a serialized
// command loop over the named-pipe control channel that is the only writer
// into the scheduler state (spec §4.4).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.jetify.com/typeid"

	"github.com/tomhayes/dispatchd/internal/handlers"
	"github.com/tomhayes/dispatchd/internal/ipc"
	"github.com/tomhayes/dispatchd/internal/metrics"
	"github.com/tomhayes/dispatchd/internal/store"
)

// requestPrefix names the typeid namespace used for per-command
// correlation ids (SPEC_FULL DOMAIN STACK: request tracing).
type requestPrefix struct{}

func (requestPrefix) Prefix() string { return "req" }

type requestID struct {
	typeid.TypeID[requestPrefix]
}

// Config configures a Server.
type Config struct {
	DataDir     string
	LogDir      string
	MetricsAddr string
	Logger      *slog.Logger
}

// Server owns the control FIFO and the single logical command-dispatch
// thread. Job supervisor goroutines are the only other writers into the
// store, which is why the store, not the server, holds the lock (spec §4.4
// "the state lock nevertheless exists because job supervisor tasks also
// mutate on completion").
type Server struct {
	cfg          Config
	store        *store.Store
	handlers     *handlers.Handlers
	metrics      *metrics.Metrics
	commandsPath string
	log          *slog.Logger

	metricsCancel context.CancelFunc
}

// New constructs a Server, loading (or creating) the data directory's
// snapshot and reattaching any in-flight jobs.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	m := metrics.New()

	st, err := store.New(store.Config{
		DataDir: cfg.DataDir,
		LogDir:  cfg.LogDir,
		Metrics: m,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:          cfg,
		store:        st,
		handlers:     handlers.New(st, log),
		metrics:      m,
		commandsPath: filepath.Join(cfg.DataDir, ipc.CommandsFIFOName),
		log:          log,
	}, nil
}

// Serve runs the command loop until a shutdown command is processed. It
// never returns an error for malformed input on the wire (spec §7
// "Transient IO: malformed JSON... logged, record skipped, loop
// continues"); it only returns an error if the control FIFO itself cannot
// be created. A failure to open or decode from the FIFO is logged and the
// loop continues.
func (s *Server) Serve() error {
	if err := ipc.SweepStaleReplies(s.cfg.DataDir); err != nil {
		s.log.Warn("failed to sweep stale reply pipes", "err", err)
	}

	if s.cfg.MetricsAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		s.metricsCancel = cancel
		go func() {
			if err := s.metrics.Serve(ctx, s.cfg.MetricsAddr); err != nil {
				s.log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	s.log.Info("server started", "data_dir", s.cfg.DataDir, "log_dir", s.cfg.LogDir)

	for !s.store.ShouldStop() {
		if err := ipc.EnsureFIFO(s.commandsPath); err != nil {
			return err
		}

		cmd, err := ipc.ReadCommand(s.commandsPath)
		if err != nil {
			s.log.Error("error parsing command from control pipe", "err", err)
			continue
		}

		s.handle(cmd)
	}

	return nil
}

func (s *Server) handle(cmd ipc.Command) {
	reqLog := s.log
	if id, err := typeid.New[requestID](); err == nil {
		reqLog = s.log.With("request_id", id.String())
	}
	reqLog.Info("handling command", "type", cmd.Type)

	resp, err := s.safeDispatch(cmd)
	if err != nil {
		reqLog.Error("command failed", "type", cmd.Type, "err", err)
		resp = ipc.ErrResponse{Err: err.Error()}
	}

	if cmd.Pipe == "" {
		return
	}

	if err := ipc.WriteResponse(cmd.Pipe, resp); err != nil {
		reqLog.Error("failed to write reply", "pipe", cmd.Pipe, "err", err)
	}
}

// safeDispatch wraps handler execution in a recover so that any handler
// panic is reported as {err: ...} instead of taking down the whole daemon
// (spec §7 "the server survives every handler exception by wrapping
// dispatch in a top-level recover").
func (s *Server) safeDispatch(cmd ipc.Command) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handlers.Dispatch(cmd)
}

// GracefulStop asks the store to stop; any handler currently being
// dispatched finishes first, since the store's own lock serializes it
// against the loop's next iteration.
func (s *Server) GracefulStop() error {
	if s.metricsCancel != nil {
		s.metricsCancel()
	}
	return s.store.Shutdown()
}
