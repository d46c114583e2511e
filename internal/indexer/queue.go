package indexer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueSize bounds pending jobs. Overflow drops the job with
	// a warning; the document stays queryable via fallback windowing.
	DefaultQueueSize = 256

	// interJobDelay paces the single consumer so bursty uploads do not
	// saturate the embedding backend.
	interJobDelay = 2 * time.Second
)

type jobKind int

const (
	jobIndex jobKind = iota
	jobRemove
)

func (k jobKind) String() string {
	if k == jobRemove {
		return "remove"
	}
	return "index"
}

type job struct {
	kind       jobKind
	documentID string
}

// Queue is a FIFO, single-consumer background job queue. One job is in
// flight at a time and a fixed delay separates consecutive jobs.
type Queue struct {
	pipeline *Pipeline
	logger   *slog.Logger

	jobs     chan job
	done     chan struct{}
	wg       sync.WaitGroup
	inFlight atomic.Bool

	jobTimeout time.Duration
	delay      time.Duration
}

// NewQueue creates a Queue over pipeline. A size of 0 selects
// DefaultQueueSize.
func NewQueue(pipeline *Pipeline, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		pipeline:   pipeline,
		logger:     logger,
		jobs:       make(chan job, size),
		done:       make(chan struct{}),
		jobTimeout: 5 * time.Minute,
		delay:      interJobDelay,
	}
}

// Start launches the consumer goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.run()
}

// Stop halts the consumer after the current job and waits for it to
// exit. Pending jobs are discarded.
func (q *Queue) Stop() {
	close(q.done)
	q.wg.Wait()
}

// EnqueueIndex schedules a document for indexing. It never blocks:
// when the queue is full the job is dropped with a warning and false is
// returned.
func (q *Queue) EnqueueIndex(documentID string) bool {
	return q.enqueue(job{kind: jobIndex, documentID: documentID})
}

// EnqueueRemove schedules a document's chunks for deletion from the
// index.
func (q *Queue) EnqueueRemove(documentID string) bool {
	return q.enqueue(job{kind: jobRemove, documentID: documentID})
}

func (q *Queue) enqueue(j job) bool {
	select {
	case q.jobs <- j:
		return true
	default:
		q.logger.Warn("indexing queue full, dropping job",
			"kind", j.kind.String(), "document_id", j.documentID, "depth", len(q.jobs))
		return false
	}
}

// Depth reports the number of queued jobs not yet started.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// InFlight reports whether a job is currently being processed.
func (q *Queue) InFlight() bool {
	return q.inFlight.Load()
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case j := <-q.jobs:
			q.process(j)

			select {
			case <-time.After(q.delay):
			case <-q.done:
				return
			}
		}
	}
}

// process runs one job under its own timeout. Failures are logged and
// swallowed: background indexing must never take the service down.
func (q *Queue) process(j job) {
	q.inFlight.Store(true)
	defer q.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case jobIndex:
		err = q.pipeline.IndexDocument(ctx, j.documentID)
	case jobRemove:
		err = q.pipeline.RemoveDocument(ctx, j.documentID)
	}
	if err != nil {
		q.logger.Warn("background job failed",
			"kind", j.kind.String(), "document_id", j.documentID, "error", err)
	}
}
