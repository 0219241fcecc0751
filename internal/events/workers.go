package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Result is one item yielded by a worker, to be re-enqueued by the manager.
type Result struct {
	ItemID int64
	RunAt  time.Time
}

// Worker processes events for one service. Implementations must honor ctx
// at least at every external call boundary.
type Worker interface {
	Name() Service
	Run(ctx context.Context, event *Event) ([]Result, error)
}

// submission pairs an event with its per-call cancellation.
type submission struct {
	event  *Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Executor runs one worker with bounded concurrency, FIFO within the
// executor. Default concurrency is 1 so a service never races itself.
type Executor struct {
	worker   Worker
	logger   zerolog.Logger
	onDone   func(*Event, []Result, error)
	jobs     chan submission
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewExecutor creates and starts an executor. onDone is the manager's
// completion callback; it is invoked for every submission, cancelled or not.
func NewExecutor(worker Worker, concurrency int, logger zerolog.Logger, onDone func(*Event, []Result, error)) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	ex := &Executor{
		worker: worker,
		logger: logger.With().Str("executor", string(worker.Name())).Logger(),
		onDone: onDone,
		jobs:   make(chan submission, 256),
	}
	for i := 0; i < concurrency; i++ {
		ex.wg.Add(1)
		go ex.loop()
	}
	return ex
}

// Submit hands an event to the executor. ctx is the per-call cancellation
// created by the manager.
func (ex *Executor) Submit(ctx context.Context, cancel context.CancelFunc, event *Event) {
	ex.jobs <- submission{event: event, ctx: ctx, cancel: cancel}
}

// Stop drains the executor. Queued submissions are reported as cancelled.
func (ex *Executor) Stop() {
	ex.stopOnce.Do(func() { close(ex.jobs) })
	ex.wg.Wait()
}

func (ex *Executor) loop() {
	defer ex.wg.Done()
	for sub := range ex.jobs {
		ex.runOne(sub)
	}
}

func (ex *Executor) runOne(sub submission) {
	defer sub.cancel()

	if sub.ctx.Err() != nil {
		ex.onDone(sub.event, nil, sub.ctx.Err())
		return
	}

	start := time.Now()
	results, err := ex.worker.Run(sub.ctx, sub.event)
	if sub.ctx.Err() != nil {
		// Results produced by a cancelled call are discarded.
		ex.onDone(sub.event, nil, sub.ctx.Err())
		return
	}
	if err != nil {
		ex.logger.Warn().Err(err).
			Int64("itemId", sub.event.ItemID).
			Dur("took", time.Since(start)).
			Msg("worker run failed")
	} else {
		ex.logger.Debug().
			Int64("itemId", sub.event.ItemID).
			Int("results", len(results)).
			Dur("took", time.Since(start)).
			Msg("worker run finished")
	}
	ex.onDone(sub.event, results, err)
}
