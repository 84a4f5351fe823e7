package lightcache

import (
	"context"
	"runtime"
	"time"

	"github.com/gekko3d/lightcache/lightrt/bake"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

func (b *Baker) workerPool() worker.DynamicWorkerPool {
	b.poolOnce.Do(func() {
		b.pool = worker.NewDynamicWorkerPool(b.workers, 256, 1*time.Second)
	})
	return b.pool
}

// Start runs the job on the baker's worker pool. The channel receives RunJob's result once.
// Progress and cancellation go through p.
func (b *Baker) Start(ctx context.Context, j *bake.Job, p *bake.Progress) <-chan error {
	done := make(chan error, 1)
	if !b.owns(j) {
		done <- ErrUnknownJob
		return done
	}

	b.taskMu.Lock()
	id := b.nextTask
	b.nextTask++
	b.taskMu.Unlock()

	b.workerPool().SubmitTask(worker.Task{
		ID:      id,
		Payload: j.ID(),
		Do: func() (any, error) {
			// The dedicated context belongs to this thread for the whole job.
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			err := b.RunJob(ctx, j, p)
			done <- err
			return nil, err
		},
	})
	return done
}

// Close stops the worker pool. Jobs already running finish on their own.
func (b *Baker) Close() {
	if b.pool != nil {
		b.pool.Stop()
	}
}
