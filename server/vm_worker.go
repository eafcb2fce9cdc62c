package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/ilvm/image"
	"github.com/chazu/ilvm/vm"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by Do after Stop.
var ErrStopped = errors.New("server: worker pool stopped")

// job is a unit of work executed by one worker.
type job struct {
	fn   func(*vm.Process) (any, error)
	done chan jobResult
}

// jobResult holds the return value of a job and its console output.
type jobResult struct {
	value  any
	output string
	err    error
}

// WorkerPool runs jobs on a fixed number of worker goroutines. Every job
// gets a fresh process with the preloaded images, so requests never see
// each other's classes or static state.
type WorkerPool struct {
	opts    vm.Options
	preload [][]byte
	jobs    chan job
	quit    chan struct{}
	group   errgroup.Group
	once    sync.Once
	log     commonlog.Logger
}

// NewWorkerPool starts workers goroutines.
func NewWorkerPool(opts vm.Options, workers int, preload [][]byte) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	w := &WorkerPool{
		opts:    opts,
		preload: preload,
		jobs:    make(chan job, workers),
		quit:    make(chan struct{}),
		log:     commonlog.GetLogger("ilvm.server"),
	}
	for i := 0; i < workers; i++ {
		w.group.Go(w.loop)
	}
	return w
}

// loop processes jobs until the pool stops.
func (w *WorkerPool) loop() error {
	for {
		select {
		case j := <-w.jobs:
			j.done <- w.execute(j.fn)
		case <-w.quit:
			w.drain()
			return nil
		}
	}
}

// drain fails jobs still queued at shutdown.
func (w *WorkerPool) drain() {
	for {
		select {
		case j := <-w.jobs:
			j.done <- jobResult{err: ErrStopped}
		default:
			return
		}
	}
}

// execute runs fn on a new process, recovering from panics.
func (w *WorkerPool) execute(fn func(*vm.Process) (any, error)) (result jobResult) {
	var out bytes.Buffer
	opts := w.opts
	opts.Stdout = &out
	p, err := vm.NewProcess(opts)
	if err != nil {
		result.err = err
		return result
	}
	defer p.Close()

	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("job panicked: %v", r)
			result.err = fmt.Errorf("%v", r)
		}
		result.output = out.String()
	}()

	for _, data := range w.preload {
		if _, err := image.Load(p, data); err != nil {
			result.err = err
			return result
		}
	}
	result.value, result.err = fn(p)
	return result
}

// Do submits fn and blocks until it completes or ctx is done. It returns
// fn's result and what the process wrote to the console.
func (w *WorkerPool) Do(ctx context.Context, fn func(*vm.Process) (any, error)) (any, string, error) {
	select {
	case <-w.quit:
		return nil, "", ErrStopped
	default:
	}
	j := job{fn: fn, done: make(chan jobResult, 1)}
	select {
	case w.jobs <- j:
	case <-w.quit:
		return nil, "", ErrStopped
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	select {
	case r := <-j.done:
		return r.value, r.output, r.err
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

// Stop shuts the workers down after their current jobs.
func (w *WorkerPool) Stop() error {
	w.once.Do(func() { close(w.quit) })
	return w.group.Wait()
}
