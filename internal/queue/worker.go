package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/domain"
)

// Runner executes one claimed export job.
type Runner interface {
	Run(ctx context.Context, job *domain.ExportJob) error
}

// Notifier is told about finished jobs. Email delivery is a deployment
// concern; the default implementation logs.
type Notifier interface {
	Notify(job *domain.ExportJob, err error)
}

// LogNotifier logs job completion.
type LogNotifier struct {
	Log *zap.Logger
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(job *domain.ExportJob, err error) {
	if err != nil {
		n.Log.Error("export job failed",
			zap.Int64("job", job.ID),
			zap.String("email", job.Email),
			zap.Error(err))
		return
	}
	n.Log.Info("export job complete",
		zap.Int64("job", job.ID),
		zap.String("email", job.Email),
		zap.String("file", job.FileLocation),
		zap.Int64("rows", job.RowsWritten()))
}

// WorkerOptions specializes one worker.
type WorkerOptions struct {
	// MaxRows restricts the worker to jobs requesting at most this many
	// rows. 0 accepts any size.
	MaxRows int64
	// JobType restricts the worker to one job type. Empty accepts any.
	JobType domain.JobType
	// PollDelay is the idle wait between queue polls.
	PollDelay time.Duration
}

// Worker polls the queue and runs matching jobs one at a time. A job is
// removed from the queue whether it succeeds or fails; failures are
// reported through the notifier.
type Worker struct {
	queue    *Queue
	runner   Runner
	notifier Notifier
	opts     WorkerOptions
	log      *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWorker creates a worker. Call Start to begin polling.
func NewWorker(q *Queue, runner Runner, notifier Notifier, opts WorkerOptions, log *zap.Logger) *Worker {
	if opts.PollDelay <= 0 {
		opts.PollDelay = 10 * time.Millisecond
	}
	if notifier == nil {
		notifier = &LogNotifier{Log: log}
	}
	return &Worker{
		queue:    q,
		runner:   runner,
		notifier: notifier,
		opts:     opts,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(w.opts.PollDelay):
			}

			job := w.queue.DequeueNext(w.opts.MaxRows, w.opts.JobType)
			if job == nil {
				continue
			}
			err := w.runner.Run(ctx, job)
			w.queue.Remove(job)
			w.notifier.Notify(job, err)
		}
	}()
}

// Stop terminates the poll loop and waits for the current job to
// finish.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}

// Pool manages a set of workers built from per-class options.
type Pool struct {
	workers []*Worker
}

// NewPool creates count workers per options entry.
func NewPool(q *Queue, runner Runner, notifier Notifier, classes []WorkerOptions, counts []int, log *zap.Logger) *Pool {
	p := &Pool{}
	for i, opts := range classes {
		n := 1
		if i < len(counts) && counts[i] > 0 {
			n = counts[i]
		}
		for j := 0; j < n; j++ {
			p.workers = append(p.workers, NewWorker(q, runner, notifier, opts, log))
		}
	}
	return p
}

// Start launches all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		w.Start(ctx)
	}
}

// Stop terminates all workers and waits for running jobs.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}
