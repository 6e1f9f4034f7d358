// Package scheduler implements the dispatcher's sole assignment policy: pick
// the next (job, idle worker) pair while both exist. It is deliberately pure
// so it can be unit tested without a store, a lock, or a process launcher.
package scheduler

import "github.com/tomhayes/dispatchd/internal/worker"

// Assign scans workers in registration order and, for as long as the
// waitlist is non-empty, hands the head of the waitlist to the first idle
// worker it finds. assignFn is called once per assignment, under the
// caller's lock, and is expected to mutate the worker (spawn the job, flip
// it to busy) and report whether the assignment succeeded; a failed
// assignment leaves the job at the head of the waitlist and stops the scan
// so a bad worker can't starve the rest of the queue in a tight loop.
//
// Assign returns the last worker it successfully assigned, or nil if no
// assignment was made. The waitlist is mutated in place.
func Assign(workers []*worker.Worker, waitlist *[]worker.JobRequest, assignFn func(w *worker.Worker, job worker.JobRequest) bool) *worker.Worker {
	var last *worker.Worker

	for len(*waitlist) > 0 {
		idle := firstIdle(workers)
		if idle == nil {
			break
		}

		job := (*waitlist)[0]
		if !assignFn(idle, job) {
			break
		}

		*waitlist = (*waitlist)[1:]
		last = idle
	}

	return last
}

func firstIdle(workers []*worker.Worker) *worker.Worker {
	for _, w := range workers {
		if w.Status == worker.StatusIdle {
			return w
		}
	}
	return nil
}
