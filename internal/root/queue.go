package root

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned when queueing into a closed queue.
	ErrQueueClosed = errors.New("job queue closed")
	// ErrQueueFull is returned when the queue holds its maximum of jobs.
	ErrQueueFull = errors.New("job queue full")
)

// DefaultQueueSize bounds a root's job queue.
const DefaultQueueSize = 256

// Job is a unit of work run by a root's worker.
type Job interface {
	Kind() string
	Do(ctx context.Context)
	// Abandon is called instead of Do for jobs still queued at close.
	Abandon()
}

// JobQueue is a bounded FIFO of jobs.
type JobQueue struct {
	mu     sync.Mutex
	jobs   chan Job
	closed bool
}

// NewJobQueue creates a queue holding up to size jobs.
func NewJobQueue(size int) *JobQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &JobQueue{jobs: make(chan Job, size)}
}

// Queue appends job.
func (q *JobQueue) Queue(job Job) error {
	return q.QueueFunc(func() (Job, error) { return job, nil })
}

// QueueFunc builds a job and appends it while holding the queue lock, so
// checks made by build cannot race with other producers.
func (q *JobQueue) QueueFunc(build func() (Job, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if len(q.jobs) == cap(q.jobs) {
		return ErrQueueFull
	}
	job, err := build()
	if err != nil {
		return err
	}
	q.jobs <- job
	return nil
}

// Dequeue blocks until a job is available, the queue is closed and
// drained, or ctx is done.
func (q *JobQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrQueueClosed
		}
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued jobs.
func (q *JobQueue) Len() int {
	return len(q.jobs)
}

// Close stops accepting jobs. Queued jobs stay available to Dequeue.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
