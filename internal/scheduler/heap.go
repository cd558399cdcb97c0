// Package scheduler drives the Pool Reconciler's periodic schedule.
//
// Per spec §9 Design Notes, periodic schedules are keyed by template uuid
// and driven by a min-heap of (next_fire_time, template_uuid) rather than a
// cron library singleton: reconciliation periods vary per-template
// (ttl_interval) and are rebuilt/cleared far more often than a typical cron
// job roster, which fits a heap's O(log n) reschedule better than a cron
// library's fixed entry table.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/tasksched/controller/internal/logger"
)

// entry is one scheduled template, its period, and its position in the heap.
type entry struct {
	templateUUID string
	period       time.Duration
	nextFire     time.Time
	index        int // maintained by heap.Interface
	removed      bool
}

// entryHeap is a min-heap ordered by nextFire.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].nextFire.Before(h[j].nextFire) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// defaultWorkers is used when New is called with a non-positive worker count.
const defaultWorkers = 4

// Scheduler fires a callback for each template uuid at its own period. Due
// entries are handed off to a bounded pool of workers (sized by the
// DAEMON_WORKERS config key) so one slow or blocked template's
// reconciliation can never stall another template's schedule.
type Scheduler struct {
	mu       sync.Mutex
	h        entryHeap
	byID     map[string]*entry
	fn       func(templateUUID string)
	stopCh   chan struct{}
	running  bool
	jobs     chan *entry
	workerWG sync.WaitGroup
}

// New creates a Scheduler that invokes fn(templateUUID) whenever a
// scheduled template's period elapses, dispatching fires across a pool of
// workers workers. A non-positive workers falls back to defaultWorkers.
func New(fn func(templateUUID string), workers int) *Scheduler {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Scheduler{
		byID:   make(map[string]*entry),
		fn:     fn,
		stopCh: make(chan struct{}),
		jobs:   make(chan *entry, workers),
	}
}

// Schedule adds or reschedules templateUUID to fire every period, starting
// one period from now. Re-scheduling an existing template replaces its
// period and resets its next-fire time, matching the teacher's
// overwrite-on-duplicate Schedule() semantics.
func (s *Scheduler) Schedule(templateUUID string, period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[templateUUID]; ok {
		old.removed = true
	}

	e := &entry{
		templateUUID: templateUUID,
		period:       period,
		nextFire:     time.Now().Add(period),
	}
	s.byID[templateUUID] = e
	heap.Push(&s.h, e)
}

// Remove cancels templateUUID's schedule. Idempotent: removing an unknown
// or already-removed template is a no-op.
func (s *Scheduler) Remove(templateUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[templateUUID]
	if !ok {
		return
	}
	e.removed = true
	delete(s.byID, templateUUID)
}

// IsScheduled reports whether templateUUID currently has a live schedule.
func (s *Scheduler) IsScheduled(templateUUID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[templateUUID]
	return ok
}

// Run starts the worker pool and drives the heap until Stop is called. Due
// entries are submitted to the bounded worker pool rather than fired inline,
// so a slow or blocked reconciliation for one template never delays the
// heap's own scheduling pass for the rest.
func (s *Scheduler) Run() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	for i := 0; i < cap(s.jobs); i++ {
		s.workerWG.Add(1)
		go s.worker()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.workerWG.Wait()
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Stop halts the driver loop and its worker pool. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// worker drains submitted entries, fires each, and reschedules it once the
// callback returns.
func (s *Scheduler) worker() {
	defer s.workerWG.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case e := <-s.jobs:
			s.fire(e)
			s.reschedule(e)
		}
	}
}

func (s *Scheduler) reschedule(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !e.removed {
		e.nextFire = time.Now().Add(e.period)
		heap.Push(&s.h, e)
	}
}

func (s *Scheduler) tick() {
	now := time.Now()
	s.mu.Lock()
	var due []*entry
	for s.h.Len() > 0 {
		next := s.h[0]
		if !next.removed && next.nextFire.After(now) {
			break
		}
		heap.Pop(&s.h)
		if !next.removed {
			due = append(due, next)
		}
	}
	s.mu.Unlock()

	// Submitting on its own goroutine keeps tick non-blocking even when the
	// bounded worker pool is saturated and the jobs channel is full.
	for _, e := range due {
		go func(e *entry) {
			select {
			case s.jobs <- e:
			case <-s.stopCh:
			}
		}(e)
	}
}

func (s *Scheduler) fire(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			logger.Scheduler().Error().
				Str("template", e.templateUUID).
				Interface("panic", r).
				Msg("recovered from panic in scheduled reconciliation")
		}
	}()
	s.fn(e.templateUUID)
}
