package worker

import (
	"fmt"
	"runtime/debug"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			// park in the idle list until the dispatcher hands us a job
			if !w.pool.Release(w.jobChannel) {
				return
			}
			job := <-w.jobChannel
			if job.Type == JobStop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.execute(job)
			w.pool.done(job.UserID)
		}
	}()
}

func (w *Worker) execute(job Job) {
	if err := job.ctx.Err(); err != nil {
		job.finish(err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("job panicked",
				"worker", w.id,
				"user_id", job.UserID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			job.finish(fmt.Errorf("%w: %v", ErrJobPanicked, r))
		}
	}()
	w.pool.logger.Debug("job started", "worker", w.id, "user_id", job.UserID)
	job.fn(job.ctx)
	job.finish(nil)
}
