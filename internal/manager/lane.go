package manager

import (
	"sync"
)

// job is one unit of work for a lane.
type job func()

// jobQueue is a thread-safe unbounded FIFO queue of jobs.
//
// The queue uses a channel for signaling so the lane loop can wait without
// polling. Enqueue never blocks, which lets callbacks submit follow-up work
// to their own lane.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // buffered, size 1
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds j to the back of the queue.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)

	// Non-blocking; a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}

	j := q.jobs[0]
	q.jobs[0] = nil // release the closure
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that signals when jobs may be available. It is
// closed by Close.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting jobs. Already queued jobs still drain.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// lane serializes the jobs of one kind on a dedicated goroutine.
type lane struct {
	kind  string
	queue *jobQueue
	done  chan struct{}
}

func startLane(kind string) *lane {
	l := &lane{kind: kind, queue: newJobQueue(), done: make(chan struct{})}
	go l.run()
	return l
}

func (l *lane) run() {
	defer close(l.done)
	for {
		for {
			j, ok := l.queue.TryDequeue()
			if !ok {
				break
			}
			j()
		}
		if _, open := <-l.queue.Wait(); !open {
			// Closed: drain anything enqueued before Close and exit.
			for {
				j, ok := l.queue.TryDequeue()
				if !ok {
					return
				}
				j()
			}
		}
	}
}

// submit queues j. Returns false once the lane is stopping.
func (l *lane) submit(j job) bool {
	return l.queue.Enqueue(j)
}

// stop closes the queue; done is closed once every queued job has run.
func (l *lane) stop() {
	l.queue.Close()
}
