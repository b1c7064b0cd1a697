// Package worker runs per-user jobs on a bounded goroutine pool. Jobs for one
// user run one at a time in submission order; different users run in parallel.
package worker

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/logging"
	"relaybot/internal/models"
)

var (
	ErrSchedulerBusy    = errors.New("scheduler busy")
	ErrSchedulerStopped = errors.New("scheduler stopped")
	ErrJobPanicked      = errors.New("job panicked")
)

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	MaxPending  int
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

type userQueue struct {
	jobs     []Job
	enqueued bool // in the ready list
	running  bool // a worker holds a job for this user
}

// Scheduler hands jobs to workers. A user sits in the ready list only while it
// has queued jobs and nothing running, which keeps its jobs strictly serial.
type Scheduler struct {
	pool     *jobChannelPool
	jobQueue chan Job
	wake     chan struct{}
	quit     chan struct{}
	stopped  chan struct{}
	logger   *slog.Logger

	maxPending int
	stopOnce   sync.Once

	mu        sync.Mutex
	closed    bool
	pending   int
	queues    map[models.UserID]*userQueue
	ready     *list.List // round-robin order of runnable users
	positions map[models.UserID]*list.Element
}

func NewScheduler(cfg Config) *Scheduler {
	if cfg.MinWorkers < 0 {
		cfg.MinWorkers = 0
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 1024
	}
	s := &Scheduler{
		jobQueue:   make(chan Job, cfg.QueueSize),
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logging.OrDiscard(cfg.Logger),
		maxPending: cfg.MaxPending,
		queues:     make(map[models.UserID]*userQueue),
		ready:      list.New(),
		positions:  make(map[models.UserID]*list.Element),
	}
	s.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, s.finish, s.logger)

	for i := 0; i < cfg.MinWorkers; i++ {
		s.pool.spawnWorker()
	}

	go s.run()
	return s
}

// Do queues fn for userID and waits until it has run. It returns
// ErrSchedulerBusy without queuing when the scheduler is saturated, ctx.Err()
// when ctx ends first, and ErrJobPanicked when fn panicked. A job whose ctx is
// done before a worker picks it up is skipped.
func (s *Scheduler) Do(ctx context.Context, userID models.UserID, fn func(context.Context)) error {
	if fn == nil {
		return errors.New("worker: nil job")
	}
	job := Job{
		Type:   JobRun,
		UserID: userID,
		ctx:    ctx,
		fn:     fn,
		done:   make(chan error, 1),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	if s.pending >= s.maxPending {
		s.mu.Unlock()
		return ErrSchedulerBusy
	}
	select {
	case s.jobQueue <- job:
		s.pending++
	default:
		s.mu.Unlock()
		return ErrSchedulerBusy
	}
	s.mu.Unlock()

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports jobs accepted but not yet finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Workers reports the number of live worker goroutines.
func (s *Scheduler) Workers() int {
	return s.pool.size()
}

// Stop rejects new jobs, fails queued ones with ErrSchedulerStopped and lets
// running jobs complete.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.quit)
		s.pool.close()
		<-s.stopped

	drain:
		for {
			select {
			case job := <-s.jobQueue:
				s.enqueueJob(job)
			default:
				break drain
			}
		}

		var dropped []Job
		s.mu.Lock()
		for id, q := range s.queues {
			dropped = append(dropped, q.jobs...)
			q.jobs = nil
			q.enqueued = false
			if !q.running {
				delete(s.queues, id)
			}
		}
		s.ready.Init()
		s.positions = make(map[models.UserID]*list.Element)
		s.pending -= len(dropped)
		s.mu.Unlock()

		for _, job := range dropped {
			job.finish(ErrSchedulerStopped)
		}
		if len(dropped) > 0 {
			s.logger.Info("scheduler stopped with queued jobs", "dropped", len(dropped))
		}
	})
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	for {
		if s.dispatchOne() {
			select {
			case job := <-s.jobQueue:
				s.enqueueJob(job)
			case <-s.quit:
				return
			default:
			}
			continue
		}
		select {
		case job := <-s.jobQueue:
			s.enqueueJob(job)
		case <-s.wake:
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) enqueueJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		s.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.running {
		return
	}
	q.enqueued = true
	s.positions[job.UserID] = s.ready.PushBack(job.UserID)
}

// dispatchOne hands the next job of the front user to a worker.
func (s *Scheduler) dispatchOne() bool {
	s.mu.Lock()
	elem := s.ready.Front()
	if elem == nil {
		s.mu.Unlock()
		return false
	}
	userID := elem.Value.(models.UserID)
	s.ready.Remove(elem)
	delete(s.positions, userID)
	q := s.queues[userID]
	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.running = true
	s.mu.Unlock()

	workerChan := s.pool.acquire()
	if workerChan == nil {
		job.finish(ErrSchedulerStopped)
		s.finish(userID)
		return false
	}
	workerChan <- job
	return true
}

// finish runs after every dispatched job and makes the user runnable again.
func (s *Scheduler) finish(userID models.UserID) {
	s.mu.Lock()
	s.pending--
	if q := s.queues[userID]; q != nil {
		q.running = false
		switch {
		case len(q.jobs) > 0 && !s.closed:
			q.enqueued = true
			s.positions[userID] = s.ready.PushBack(userID)
		case len(q.jobs) == 0:
			delete(s.queues, userID)
		}
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}
