package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"review-collab/internal/logger"
	"review-collab/internal/models"
)

/*
SNAPSHOT WORKER POOL

The collaboration loop must never wait on the database, so persistence is
handed to a fixed pool of workers through a bounded queue:

  coordinator --Submit--> jobs (buffered) --> worker 1..N --> repository.Save

Submit never blocks. When the queue is full the job is dropped; the next
mutation of the same session produces a newer snapshot anyway, and the
repository ignores versions older than the stored one.
*/

var (
	ErrQueueFull    = errors.New("snapshot queue is full")
	ErrShuttingDown = errors.New("snapshot service is shutting down")
)

// SnapshotJob is one state to persist.
type SnapshotJob struct {
	SessionID string
	Version   uint64
	State     models.CollaborationState
}

// SnapshotServiceImpl persists session snapshots with a worker pool
type SnapshotServiceImpl struct {
	repo SnapshotRepository
	log  *slog.Logger

	jobs         chan SnapshotJob
	workers      int
	wg           sync.WaitGroup
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewSnapshotService creates the pool; call Start to spawn the workers.
func NewSnapshotService(repo SnapshotRepository, log *slog.Logger, numWorkers, queueSize int) *SnapshotServiceImpl {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &SnapshotServiceImpl{
		repo:         repo,
		log:          log.With(slog.String("component", "snapshots")),
		jobs:         make(chan SnapshotJob, queueSize),
		workers:      numWorkers,
		writeTimeout: 5 * time.Second,
	}
}

// Start spawns the workers
func (s *SnapshotServiceImpl) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.Info("snapshot worker pool started", slog.Int("workers", s.workers))
}

func (s *SnapshotServiceImpl) worker(id int) {
	defer s.wg.Done()

	for job := range s.jobs {
		if err := s.persist(job); err != nil {
			s.log.Error("failed to persist snapshot",
				slog.Int("worker", id),
				slog.String("session_id", job.SessionID),
				slog.Uint64("version", job.Version),
				logger.Err(err),
			)
			continue
		}
		s.log.Debug("snapshot persisted",
			slog.Int("worker", id),
			slog.String("session_id", job.SessionID),
			slog.Uint64("version", job.Version),
		)
	}
}

func (s *SnapshotServiceImpl) persist(job SnapshotJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.repo.Save(ctx, job.SessionID, job.Version, job.State); err != nil {
		return fmt.Errorf("failed to save session %s: %w", job.SessionID, err)
	}
	return nil
}

// Submit queues job without blocking.
func (s *SnapshotServiceImpl) Submit(job SnapshotJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrShuttingDown
	}

	select {
	case s.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Load returns the last persisted state of sessionID.
func (s *SnapshotServiceImpl) Load(ctx context.Context, sessionID string) (models.CollaborationState, uint64, bool, error) {
	return s.repo.Load(ctx, sessionID)
}

// Shutdown stops accepting jobs and waits until the queue is drained
func (s *SnapshotServiceImpl) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("snapshot service shutdown complete")
}

// QueueLength returns the number of pending jobs
func (s *SnapshotServiceImpl) QueueLength() int {
	return len(s.jobs)
}
