package core

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system is shut down")

// Job is one unit of work. OnFailure or OnComplete runs on the worker after
// Run returns, then OnCompletionCallback.
type Job struct {
	Run                  func() error
	OnFailure            func(err error)
	OnComplete           func()
	OnCompletionCallback func()
}

// JobSystem runs jobs on a fixed set of workers.
type JobSystem struct {
	numWorkers int
	jobQueue   chan Job
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job Job) {
	if err := job.Run(); err != nil {
		if job.OnFailure != nil {
			job.OnFailure(err)
		} else {
			LogError("job failed: %s", err)
		}
	} else if job.OnComplete != nil {
		job.OnComplete()
	}
	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

// Shutdown stops accepting jobs and waits for the queued ones to finish.
// Calling it again is a no-op.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()
	js.wg.Wait()
	return nil
}

// Submit queues jt, blocking while the queue is full.
func (js *JobSystem) Submit(jt Job) error {
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- jt
	return nil
}

// Parallel splits [0, n) into ranges of at most chunk items, runs fn over
// each on the workers and returns once all of them finished with the first
// error any returned. It must not be called from inside a job.
func (js *JobSystem) Parallel(n, chunk int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if chunk <= 0 {
		chunk = 1
	}
	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		err := js.Submit(Job{
			Run:                  func() error { return fn(lo, hi) },
			OnFailure:            func(err error) { once.Do(func() { first = err }) },
			OnCompletionCallback: wg.Done,
		})
		if err != nil {
			wg.Done()
			once.Do(func() { first = err })
			break
		}
	}
	wg.Wait()
	return first
}
