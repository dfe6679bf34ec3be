package grading

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EnqueueResult reports what happened to a grading trigger.
type EnqueueResult string

const (
	EnqueueAccepted  EnqueueResult = "accepted"
	EnqueueDuplicate EnqueueResult = "duplicate"
	EnqueueFull      EnqueueResult = "full"
)

// Queue hands submitted sessions to a fixed pool of grading workers.
// Submission confirmation never waits on grading; failures are logged and
// the session stays re-triggerable instead of being silently swallowed.
type Queue struct {
	orch       *Orchestrator
	workers    int
	jobs       chan int64
	jobTimeout time.Duration

	mu       sync.Mutex
	inFlight map[int64]bool

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewQueue creates a queue draining into workers goroutines. Start must be
// called before Enqueue is useful.
func NewQueue(orch *Orchestrator, workers, buffer int, jobTimeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = 64
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Queue{
		orch:       orch,
		workers:    workers,
		jobs:       make(chan int64, buffer),
		jobTimeout: jobTimeout,
		inFlight:   make(map[int64]bool),
		quit:       make(chan struct{}),
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Stop drains nothing further and waits for in-progress jobs to finish.
func (q *Queue) Stop() {
	close(q.quit)
	q.wg.Wait()
}

// Enqueue queues a session for grading. A session already queued or being
// graded is not queued twice: triggering grading twice in quick succession
// yields one run, and the per-question upserts make even a lost race
// converge on one grade row per question.
func (q *Queue) Enqueue(sessionID int64) EnqueueResult {
	q.mu.Lock()
	if q.inFlight[sessionID] {
		q.mu.Unlock()
		return EnqueueDuplicate
	}
	q.inFlight[sessionID] = true
	q.mu.Unlock()

	select {
	case q.jobs <- sessionID:
		return EnqueueAccepted
	default:
		q.clearInFlight(sessionID)
		slog.Warn("grading queue full, session not queued", "session_id", sessionID)
		return EnqueueFull
	}
}

func (q *Queue) clearInFlight(sessionID int64) {
	q.mu.Lock()
	delete(q.inFlight, sessionID)
	q.mu.Unlock()
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.quit:
			return
		case sessionID := <-q.jobs:
			ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
			if err := q.orch.GradeSession(ctx, sessionID); err != nil {
				slog.Error("grading run failed", "worker", id, "session_id", sessionID, "error", err)
			}
			cancel()
			q.clearInFlight(sessionID)
		}
	}
}
