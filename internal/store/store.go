// Package store implements the State Store: the single point of
// coordination for the waitlist of pending jobs, the set of registered
// workers, and the durable snapshot of both. Every mutating operation
// acquires one lock, mutates, persists, and (where applicable) invokes the
// scheduler before returning, matching spec §4.1.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tomhayes/dispatchd/internal/launcher"
	"github.com/tomhayes/dispatchd/internal/metrics"
	"github.com/tomhayes/dispatchd/internal/scheduler"
	"github.com/tomhayes/dispatchd/internal/snapshot"
	"github.com/tomhayes/dispatchd/internal/supervisor"
	"github.com/tomhayes/dispatchd/internal/worker"
)

// Reserved environment variable names a job or worker may never set
// directly (spec invariant 6).
const (
	EnvJobID   = "JOB_ID"
	EnvSlaveIP = "SLAVE_IP"
)

var (
	// ErrReservedEnv is returned when a caller tries to set JOB_ID or
	// SLAVE_IP.
	ErrReservedEnv = errors.New("environment name is reserved")
	// ErrWorkerExists is returned by AddWorker for a duplicate address.
	ErrWorkerExists = errors.New("worker already added")
	// ErrWorkerNotFound is returned by RemoveWorker for an unknown address.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrWorkerBusy is returned by RemoveWorker when neither wait nor kill
	// was requested for a busy worker.
	ErrWorkerBusy = errors.New("worker is busy; use wait or kill")
	// ErrAlreadyRemoving is returned by RemoveWorker --wait on a worker
	// that is already marked for removal.
	ErrAlreadyRemoving = errors.New("worker is already marked for removal")
)

// workerExistsError carries the exact wire message spec §8 scenario 2
// expects ("10.0.0.1 is already added"), while still unwrapping to
// ErrWorkerExists for callers that check with errors.Is.
type workerExistsError struct {
	address string
}

func (e *workerExistsError) Error() string {
	return fmt.Sprintf("%s is already added", e.address)
}

func (e *workerExistsError) Unwrap() error {
	return ErrWorkerExists
}

// reservedEnvError carries the exact wire message spec §8 scenario 3
// expects ("Environment name JOB_ID is reserved."), while still unwrapping
// to ErrReservedEnv for callers that check with errors.Is.
type reservedEnvError struct {
	name string
}

func (e *reservedEnvError) Error() string {
	return fmt.Sprintf("Environment name %s is reserved.", e.name)
}

func (e *reservedEnvError) Unwrap() error {
	return ErrReservedEnv
}

// ReservedEnvError reports that name is one of the reserved environment
// variables (JOB_ID, SLAVE_IP), in the spec's exact wire wording. Exported
// so internal/handlers can produce the same message when validating CLI-
// supplied K=V pairs before they ever reach the store.
func ReservedEnvError(name string) error {
	return &reservedEnvError{name: name}
}

// Config configures a new Store.
type Config struct {
	DataDir  string
	LogDir   string
	Launcher *launcher.Launcher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Store is the process-wide aggregate of workers, waitlist, and control
// flags. The zero value is not usable; construct with New.
type Store struct {
	mu sync.Mutex

	workers    []*worker.Worker
	waitlist   []worker.JobRequest
	shouldStop bool

	dataDir      string
	logDir       string
	snapshotPath string

	launcher *launcher.Launcher
	metrics  *metrics.Metrics
	log      *slog.Logger

	supervisors sync.WaitGroup
}

// New creates a Store rooted at cfg.DataDir, loading any existing snapshot
// and reattaching supervisors for workers that were busy when the process
// last stopped (spec §4.1 load_status, §5 "running jobs are deliberately
// preserved across restarts").
func New(cfg Config) (*Store, error) {
	if cfg.Launcher == nil {
		cfg.Launcher = launcher.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating log dir: %w", err)
	}

	s := &Store{
		dataDir:      cfg.DataDir,
		logDir:       cfg.LogDir,
		snapshotPath: filepath.Join(cfg.DataDir, "server_context.json"),
		launcher:     cfg.Launcher,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
	}

	doc, err := snapshot.Load(s.snapshotPath)
	if err != nil {
		return nil, err
	}

	s.workers = doc.Workers
	s.waitlist = doc.Waitlist
	for _, w := range s.workers {
		s.associate(w)
	}

	s.reportMetricsLocked()

	return s, nil
}

// associate reattaches a worker loaded from a snapshot: it gets a fresh
// shutdown channel and, if it has a running job, a new supervisor goroutine
// that monitors the job purely by pid (there is no launcher.Handle for a
// process this instance didn't spawn).
func (s *Store) associate(w *worker.Worker) {
	w.ResetShutdownSignal()
	if w.RunningJob != nil && (w.Status == worker.StatusBusy || w.Status == worker.StatusRemoving) {
		s.startSupervisor(w, nil)
	}
}

// AddJob enqueues a job and immediately tries to schedule it onto an idle
// worker (spec §4.1 add_job).
func (s *Store) AddJob(argv []string, envOverrides map[string]string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("argv must not be empty")
	}
	if err := checkReserved(envOverrides); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := worker.JobRequest{Argv: argv, EnvOverrides: envOverrides}
	s.waitlist = append(s.waitlist, job)

	assigned := s.scheduleLocked()
	if err := s.persistLocked(); err != nil {
		return "", err
	}

	switch {
	case len(s.waitlist) > 0:
		return "All workers are busy. Job is added to the waiting list.", nil
	case assigned != nil:
		return fmt.Sprintf("Job is assigned to %s.", assigned.Address), nil
	default:
		return "Job is added to the waiting list.", nil
	}
}

// RemoveJob removes the first structurally-equal match from the waitlist.
// Not finding a match is reported, not an error (spec §4.1, §7 NotFound).
func (s *Store) RemoveJob(argv []string, envOverrides map[string]string) (string, error) {
	job := worker.JobRequest{Argv: argv, EnvOverrides: envOverrides}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, candidate := range s.waitlist {
		if candidate.Equal(job) {
			s.waitlist = append(s.waitlist[:i], s.waitlist[i+1:]...)
			s.reportMetricsLocked()
			if err := s.persistLocked(); err != nil {
				return "", err
			}
			return "The job is removed from the waitlist.", nil
		}
	}

	return "Failed to remove the job from the waitlist: no match found.", nil
}

// AddWorker registers a new worker and immediately schedules onto it if the
// waitlist is non-empty (spec §4.1 add_slave; boundary behavior: "the new
// worker becomes busy before add_slave returns").
func (s *Store) AddWorker(address string, envDefaults map[string]string) error {
	if err := checkReserved(envDefaults); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.workers {
		if w.Address == address {
			return &workerExistsError{address: address}
		}
	}

	w := &worker.Worker{
		Address:     address,
		EnvDefaults: envDefaults,
		Status:      worker.StatusIdle,
	}
	w.ResetShutdownSignal()
	s.workers = append(s.workers, w)

	s.scheduleLocked()
	return s.persistLocked()
}

// RemoveWorker removes a worker. An idle worker is removed immediately. A
// busy worker requires wait (marks remove_after_finish and removes once the
// running job completes) or kill (terminates the job now and removes
// immediately) — spec §4.1 remove_slave, §4.3 Kill semantics.
func (s *Store) RemoveWorker(address string, wait, kill bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, w := s.findWorkerLocked(address)
	if w == nil {
		return fmt.Errorf("%s: %w", address, ErrWorkerNotFound)
	}

	if w.Status == worker.StatusIdle {
		s.removeWorkerAtLocked(idx)
		return s.persistLocked()
	}

	if w.Status == worker.StatusRemoving {
		return fmt.Errorf("%s: %w", address, ErrAlreadyRemoving)
	}

	switch {
	case kill:
		return s.killWorkerLocked(idx, w)
	case wait:
		w.RemoveAfterFinish = true
		w.Status = worker.StatusRemoving
		return s.persistLocked()
	default:
		return fmt.Errorf("%s: %w", address, ErrWorkerBusy)
	}
}

func (s *Store) killWorkerLocked(idx int, w *worker.Worker) error {
	address := w.Address
	pid := 0
	if w.RunningJob != nil {
		pid = w.RunningJob.PID
	}

	// (a) signal the supervisor to detach, (b) join it, so the completion
	// path never races with the removal we're about to do. Joined fires the
	// instant this worker's poll loop returns, before it ever touches store
	// state, so waiting on it here — under s.mu — cannot deadlock against
	// some other worker's supervisor blocked on completeJob's own lock.
	w.RequestShutdown()
	if w.Supervising() {
		<-w.Joined()
	}

	// (c) terminate the process now that no supervisor owns it. This can
	// block for up to launcher.TerminationGrace waiting out a SIGTERM-
	// ignoring child, so the lock is released around it: every other store
	// operation (and every other worker's completion path) would otherwise
	// stall behind one uncooperative process.
	if pid > 0 {
		s.mu.Unlock()
		err := launcher.TerminatePID(pid)
		s.mu.Lock()
		if err != nil {
			s.log.Warn("error terminating killed worker's job", "address", address, "pid", pid, "err", err)
		}
	}

	// (d) drop the worker; it is not reattached on the next load. Re-find it
	// by address rather than trusting idx, which may be stale after the
	// unlock above.
	idx, w = s.findWorkerLocked(address)
	if w == nil {
		return nil
	}
	s.removeWorkerAtLocked(idx)
	return s.persistLocked()
}

func (s *Store) findWorkerLocked(address string) (int, *worker.Worker) {
	for i, w := range s.workers {
		if w.Address == address {
			return i, w
		}
	}
	return -1, nil
}

func (s *Store) removeWorkerAtLocked(idx int) {
	w := s.workers[idx]
	w.Status = worker.StatusRemoved
	s.workers = append(s.workers[:idx], s.workers[idx+1:]...)
	s.reportMetricsLocked()
}

// StatusDocument is the response shape for the status command and the input
// shape for load_status (spec §4.1 "Status as JSON").
type StatusDocument struct {
	JobWaitlist []worker.JobRequest `json:"job_waitlist"`
	Slaves      []*worker.Worker    `json:"slaves"`
}

// Status returns a snapshot of deep-copied workers and a fresh copy of the
// waitlist slice (its entries still share their argv and env storage), safe
// to marshal and hand to a caller outside the lock.
func (s *Store) Status() StatusDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := StatusDocument{
		JobWaitlist: append([]worker.JobRequest(nil), s.waitlist...),
		Slaves:      make([]*worker.Worker, len(s.workers)),
	}
	for i, w := range s.workers {
		doc.Slaves[i] = w.Clone()
	}
	return doc
}

// LoadStatus replaces the in-memory state from a decoded status document,
// persists it, and reattaches supervisors for any workers that claim a
// running job (spec §4.1 load_status). Any supervisors for the previous
// in-memory workers are asked to detach first so invariant 4 (at most one
// supervisor per worker) holds across the swap.
func (s *Store) LoadStatus(doc StatusDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.workers {
		w.RequestShutdown()
	}
	for _, w := range s.workers {
		if w.Supervising() {
			<-w.Joined()
		}
	}

	s.workers = make([]*worker.Worker, len(doc.Slaves))
	copy(s.workers, doc.Slaves)
	s.waitlist = append([]worker.JobRequest(nil), doc.JobWaitlist...)

	for _, w := range s.workers {
		s.associate(w)
	}

	s.reportMetricsLocked()
	return s.persistLocked()
}

// Shutdown marks the store stopped, persists, and asks every active
// supervisor to detach. Supervisors of still-running jobs return without
// clearing worker state, so the next process can resume monitoring them
// (spec §5 "Clean shutdown").
func (s *Store) Shutdown() error {
	s.mu.Lock()
	for _, w := range s.workers {
		w.RequestShutdown()
	}
	s.shouldStop = true
	err := s.persistLocked()
	s.mu.Unlock()

	s.supervisors.Wait()
	return err
}

// ShouldStop reports whether Shutdown has been called.
func (s *Store) ShouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldStop
}

// scheduleLocked is the Scheduler component (spec §4.2), invoked under the
// store's lock by every operation that might free up or add capacity.
func (s *Store) scheduleLocked() *worker.Worker {
	assigned := scheduler.Assign(s.workers, &s.waitlist, s.assignLocked)
	s.reportMetricsLocked()
	return assigned
}

// assignLocked spawns job on w via the launcher and starts its supervisor.
// Returning false leaves job at the head of the waitlist and stops the
// scheduler's scan, so one bad worker can't spin through the rest of the
// queue.
func (s *Store) assignLocked(w *worker.Worker, job worker.JobRequest) bool {
	id := time.Now().UnixMilli()
	logFile := filepath.Join(s.logDir, fmt.Sprintf("job_%d.txt", id))

	env := mergeEnv(w.Address, id, w.EnvDefaults, job.EnvOverrides)

	handle, err := s.launcher.Launch(job.Argv, env, logFile)
	if err != nil {
		s.log.Error("failed to launch job", "address", w.Address, "argv", job.Argv, "err", err)
		return false
	}

	w.RunningJob = &worker.JobInfo{
		ID:           id,
		Argv:         job.Argv,
		EnvOverrides: job.EnvOverrides,
		PID:          handle.PID(),
		LogFile:      logFile,
	}
	w.Status = worker.StatusBusy

	s.log.Info("running job", "id", id, "address", w.Address, "pid", handle.PID(), "log_file", logFile)

	s.startSupervisor(w, handle)

	return true
}

// startSupervisor launches the per-job monitor goroutine for w. handle is
// nil when reattaching a job this process didn't spawn (loaded from a
// snapshot); in that case liveness is checked purely by pid.
func (s *Store) startSupervisor(w *worker.Worker, handle *launcher.Handle) {
	w.SetSupervising(true)
	w.ResetJoined()
	shutdown := w.ShutdownSignal()
	pid := w.RunningJob.PID
	address := w.Address

	s.supervisors.Add(1)
	go func() {
		defer s.supervisors.Done()

		outcome := supervisor.Run(pid, handle, shutdown)
		w.MarkJoined()
		if outcome == supervisor.OutcomeDetached {
			return
		}

		s.completeJob(address, pid)
	}()
}

// completeJob runs the Job Lifecycle Supervisor's completion path (spec
// §4.3): clear the worker's running job, transition it to idle or remove it
// if it was marked remove_after_finish, persist, and reschedule.
func (s *Store) completeJob(address string, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, w := s.findWorkerLocked(address)
	if w == nil {
		// the worker was already removed (e.g. a concurrent --kill) by the
		// time this completion observation landed.
		return
	}

	var jobID int64
	if w.RunningJob != nil {
		jobID = w.RunningJob.ID
	}
	s.log.Info("job finished", "id", jobID, "address", address, "pid", pid)

	w.RunningJob = nil
	w.SetSupervising(false)
	s.metrics.IncJobsCompleted()

	if w.RemoveAfterFinish {
		s.removeWorkerAtLocked(idx)
	} else {
		w.Status = worker.StatusIdle
	}

	s.scheduleLocked()
	if err := s.persistLocked(); err != nil {
		s.log.Error("failed to persist snapshot after job completion", "err", err)
	}
}

// persistLocked writes the current state to disk. Called while s.mu is
// held, satisfying invariant 5 ("no mutation updates state without writing
// the snapshot before releasing the lock").
func (s *Store) persistLocked() error {
	doc := snapshot.Encode(s.workers, s.waitlist)
	if err := snapshot.WriteAtomic(s.snapshotPath, doc); err != nil {
		return fmt.Errorf("store: persisting snapshot: %w", err)
	}
	return nil
}

func (s *Store) reportMetricsLocked() {
	if s.metrics == nil {
		return
	}

	var idle, busy int
	for _, w := range s.workers {
		switch w.Status {
		case worker.StatusIdle:
			idle++
		case worker.StatusBusy, worker.StatusRemoving:
			busy++
		}
	}
	s.metrics.SetWorkers(idle, busy)
	s.metrics.SetWaitlist(len(s.waitlist))
}

func checkReserved(env map[string]string) error {
	for _, reserved := range [...]string{EnvJobID, EnvSlaveIP} {
		if _, ok := env[reserved]; ok {
			return ReservedEnvError(reserved)
		}
	}
	return nil
}

// mergeEnv builds the child process environment in the precedence spec §6
// requires: SLAVE_IP+JOB_ID, then the worker's env_defaults, then the job's
// env_overrides (last wins).
func mergeEnv(address string, jobID int64, envDefaults, envOverrides map[string]string) []string {
	merged := map[string]string{
		EnvSlaveIP: address,
		EnvJobID:   fmt.Sprintf("%d", jobID),
	}
	for k, v := range envDefaults {
		merged[k] = v
	}
	for k, v := range envOverrides {
		merged[k] = v
	}

	env := os.Environ()
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}
