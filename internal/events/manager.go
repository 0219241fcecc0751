package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/media"
	"github.com/harborr/harborr/internal/metrics"
)

// pollInterval bounds the dispatch loop's sleep when nothing is eligible.
const pollInterval = 500 * time.Millisecond

type runningJob struct {
	event  *Event
	cancel context.CancelFunc
}

// Manager owns the queue, the running set and the executors. The queue and
// running set share one mutex; it is never held across database or worker
// calls.
type Manager struct {
	store          *media.Store
	logger         zerolog.Logger
	m              *metrics.Metrics
	postProcessing bool

	mu      sync.Mutex
	queue   *Queue
	running map[string]*runningJob // event id → job

	executors map[Service]*Executor
	stop      context.CancelFunc
	done      chan struct{}
}

// NewManager creates the manager. Workers are registered before Start.
func NewManager(store *media.Store, logger zerolog.Logger, mtr *metrics.Metrics, postProcessing bool) *Manager {
	return &Manager{
		store:          store,
		logger:         logger.With().Str("component", "event-manager").Logger(),
		m:              mtr,
		postProcessing: postProcessing,
		queue:          &Queue{},
		running:        make(map[string]*runningJob),
		executors:      make(map[Service]*Executor),
	}
}

// RegisterWorker wires a worker into its own executor. The completion
// callback re-enqueues yields as events emitted by the finished service.
func (m *Manager) RegisterWorker(w Worker, concurrency int) {
	service := w.Name()
	m.executors[service] = NewExecutor(w, concurrency, m.logger, func(event *Event, results []Result, err error) {
		m.complete(service, event, results, err)
	})
}

// Start runs the dispatch loop until Stop or parent context cancellation.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.stop = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := m.dispatchOne(ctx); errors.Is(err, ErrEmpty) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollInterval):
				}
			}
		}
	}()
}

// Stop halts dispatch and drains the executors.
func (m *Manager) Stop() {
	if m.stop != nil {
		m.stop()
		<-m.done
	}
	for _, ex := range m.executors {
		ex.Stop()
	}
}

// AddEvent enqueues an event after dedupe checks. Returns false when the
// event was rejected; rejection is not an error.
func (m *Manager) AddEvent(ctx context.Context, e *Event) (bool, error) {
	if e.ItemID != 0 {
		return m.addItemEvent(ctx, e)
	}
	return m.addContentEvent(e), nil
}

func (m *Manager) addItemEvent(ctx context.Context, e *Event) (bool, error) {
	self, descendants, err := m.store.GetItemIDs(ctx, e.ItemID)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			m.logger.Debug().Int64("itemId", e.ItemID).Msg("dropping event for missing item")
			return false, nil
		}
		return false, err
	}
	ids := append([]int64{self}, descendants...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ancestors, err := m.store.AncestorStates(ctx, e.ItemID)
	if err != nil {
		return false, err
	}
	for _, state := range ancestors {
		if state == media.StatePaused {
			m.dedupe("parent-blocked", e)
			return false, nil
		}
	}

	if e.State == "" {
		state, _, err := m.store.GetState(ctx, e.ItemID)
		if err != nil {
			return false, err
		}
		e.State = state
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	busy := func(other *Event) bool {
		return other.ItemID != 0 && media.ContainsID(ids, other.ItemID)
	}
	if m.queue.Contains(busy) {
		m.dedupe("queued", e)
		return false, nil
	}
	for _, job := range m.running {
		if busy(job.event) {
			m.dedupe("running", e)
			return false, nil
		}
	}

	m.push(e)
	return true, nil
}

// addContentEvent rejects provider submissions whose external ids match an
// event already queued or running. Single pass, early return on first match.
func (m *Manager) addContentEvent(e *Event) bool {
	if e.Content == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	match := func(other *Event) bool {
		return other.Content != nil && e.Content.ExternalIDsMatch(other.Content)
	}
	if m.queue.Contains(match) {
		m.dedupe("content-queued", e)
		return false
	}
	for _, job := range m.running {
		if match(job.event) {
			m.dedupe("content-running", e)
			return false
		}
	}

	m.push(e)
	return true
}

// push appends to the queue. Caller holds the lock.
func (m *Manager) push(e *Event) {
	m.queue.Push(e)
	if m.m != nil {
		m.m.EventsEnqueued.WithLabelValues(string(e.Emitter)).Inc()
		m.m.QueueDepth.Set(float64(m.queue.Len()))
	}
}

func (m *Manager) dedupe(reason string, e *Event) {
	m.logger.Debug().
		Str("reason", reason).
		Int64("itemId", e.ItemID).
		Str("emitter", string(e.Emitter)).
		Msg("event deduplicated")
	if m.m != nil {
		m.m.EventsDeduped.WithLabelValues(reason).Inc()
	}
}

// dispatchOne pops the best eligible event, routes it through the state
// machine and submits it to an executor. Returns ErrEmpty when idle.
func (m *Manager) dispatchOne(ctx context.Context) error {
	now := time.Now()

	m.mu.Lock()
	e, err := m.queue.Pop(now)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	// Mark running before routing so dedupe holds while we read the DB.
	m.running[e.ID] = &runningJob{event: e}
	if m.m != nil {
		m.m.QueueDepth.Set(float64(m.queue.Len()))
		m.m.RunningJobs.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	route, err := m.route(ctx, e)
	if err != nil {
		m.logger.Warn().Err(err).Int64("itemId", e.ItemID).Msg("routing failed")
		m.unmark(e.ID)
		return nil
	}

	if route.SubmitParent {
		m.unmark(e.ID)
		m.resubmitParent(ctx, e, route.Item)
		return nil
	}

	if len(route.Children) > 0 {
		m.unmark(e.ID)
		for _, child := range route.Children {
			ev := NewItemEvent(child.ID, e.Emitter, now, child.LastState)
			if _, err := m.AddEvent(ctx, ev); err != nil {
				m.logger.Warn().Err(err).Int64("itemId", child.ID).Msg("failed to enqueue child")
			}
		}
		return nil
	}

	if route.NextService == "" {
		m.unmark(e.ID)
		return nil
	}

	ex, ok := m.executors[route.NextService]
	if !ok {
		m.logger.Error().Str("service", string(route.NextService)).Msg("no executor registered")
		m.unmark(e.ID)
		return nil
	}

	if e.ItemID == 0 && route.Item.ID != 0 {
		// A provider submission was persisted during routing; track it as
		// an item event from here on.
		e.ItemID = route.Item.ID
		e.State = route.Item.LastState
	}

	callCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if job, ok := m.running[e.ID]; ok {
		job.cancel = cancel
	}
	m.mu.Unlock()

	if m.m != nil {
		m.m.EventsDispatched.WithLabelValues(string(route.NextService)).Inc()
	}
	ex.Submit(callCtx, cancel, e)
	return nil
}

// route resolves the event's item and runs the state machine.
func (m *Manager) route(ctx context.Context, e *Event) (Route, error) {
	now := time.Now()

	if e.Content != nil {
		existing, err := m.store.GetByExternalID(ctx, e.Content.Type,
			strPtrVal(e.Content.ImdbID), strPtrVal(e.Content.TmdbID), strPtrVal(e.Content.TvdbID))
		if err != nil && !errors.Is(err, media.ErrNotFound) {
			return Route{}, err
		}
		if existing == nil {
			if err := m.store.Create(ctx, e.Content); err != nil {
				if errors.Is(err, media.ErrDuplicate) {
					return Route{}, nil
				}
				return Route{}, fmt.Errorf("failed to persist submission: %w", err)
			}
			return ProcessEvent(nil, e.Emitter, e.Content, m.postProcessing, now), nil
		}
		return ProcessEvent(existing, e.Emitter, e.Content, m.postProcessing, now), nil
	}

	item, err := m.store.GetByID(ctx, e.ItemID)
	if err != nil {
		return Route{}, err
	}
	if item.LastState == media.StateOngoing || item.LastState == media.StatePartiallyCompleted {
		item.Children, err = m.store.Children(ctx, item.ID)
		if err != nil {
			return Route{}, err
		}
	}
	return ProcessEvent(nil, e.Emitter, item, m.postProcessing, now), nil
}

// resubmitParent replaces a season submission with its parent show.
func (m *Manager) resubmitParent(ctx context.Context, e *Event, season *media.Item) {
	if season.ParentID == nil {
		m.logger.Debug().Msg("season submission has no resolvable parent show, dropping")
		return
	}
	ev := NewItemEvent(*season.ParentID, e.Emitter, time.Now(), "")
	if _, err := m.AddEvent(ctx, ev); err != nil {
		m.logger.Warn().Err(err).Int64("itemId", *season.ParentID).Msg("failed to resubmit parent show")
	}
}

// complete is the executor completion callback.
func (m *Manager) complete(service Service, e *Event, results []Result, err error) {
	m.unmark(e.ID)

	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil && m.m != nil {
		m.m.WorkerFailures.WithLabelValues(string(service)).Inc()
	}
	if m.m != nil {
		m.m.WorkerRuns.WithLabelValues(string(service)).Inc()
	}

	ctx := context.Background()
	for _, r := range results {
		runAt := r.RunAt
		if runAt.IsZero() {
			runAt = time.Now()
		}
		ev := NewItemEvent(r.ItemID, service, runAt, "")
		if _, err := m.AddEvent(ctx, ev); err != nil {
			m.logger.Warn().Err(err).Int64("itemId", r.ItemID).Msg("failed to enqueue worker result")
		}
	}
}

func strPtrVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (m *Manager) unmark(eventID string) {
	m.mu.Lock()
	delete(m.running, eventID)
	if m.m != nil {
		m.m.RunningJobs.Set(float64(len(m.running)))
	}
	m.mu.Unlock()
}

// CancelJob cancels any running call and drops queued events for the item
// and all of its descendants.
func (m *Manager) CancelJob(ctx context.Context, itemID int64) error {
	_, descendants, err := m.store.GetItemIDs(ctx, itemID)
	if err != nil {
		return err
	}
	ids := append([]int64{itemID}, descendants...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	m.mu.Lock()
	defer m.mu.Unlock()

	target := func(e *Event) bool {
		return e.ItemID != 0 && media.ContainsID(ids, e.ItemID)
	}
	dropped := m.queue.Remove(target)
	for _, job := range m.running {
		if target(job.event) && job.cancel != nil {
			job.cancel()
		}
	}

	if m.m != nil {
		m.m.QueueDepth.Set(float64(m.queue.Len()))
		m.m.EventsCancelled.Inc()
	}
	m.logger.Info().Int64("itemId", itemID).Int("dropped", dropped).Msg("job cancelled")
	return nil
}

// QueueSnapshot returns the queued events for the admin surface.
func (m *Manager) QueueSnapshot() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

// RunningItems returns the item ids currently being processed.
func (m *Manager) RunningItems() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, job := range m.running {
		if job.event.ItemID != 0 {
			ids = append(ids, job.event.ItemID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
