package scheduler

import "sync"

// TaskFunc is one ad-hoc unit of work submitted to a TaskService.
type TaskFunc func()

// intervalTask fires whenever the current frame number modulo its
// interval is zero.
type intervalTask struct {
	id       string
	interval uint64
	fn       TaskFunc
}

// TaskService is the special Delegate of spec.md §4.8 that accepts
// ad-hoc one-shot and interval tasks from any goroutine. One-shot tasks
// run once, the next cycle they are observed; interval tasks run every
// N frames until explicitly cancelled.
//
// Grounded on session/manager.go's mutex-guarded queue discipline
// generalized from a single cleanup ticker to an arbitrary multi-producer
// task queue.
type TaskService struct {
	mu        sync.Mutex
	oneShot   []TaskFunc
	intervals map[string]*intervalTask

	delegate *Delegate
}

// NewTaskService constructs a TaskService and its backing Delegate,
// identified by id. Callers must Register the returned Delegate with a
// Registrar (and call Initialize) before tasks are actually run.
func NewTaskService(id string) (*TaskService, *Delegate) {
	ts := &TaskService{intervals: make(map[string]*intervalTask)}
	ts.delegate = NewDelegate(id, ts.execute)
	return ts, ts.delegate
}

// Submit enqueues a one-shot task, safe to call from any goroutine
// ("task scheduling from off-thread is permitted" per spec.md §4.8).
func (ts *TaskService) Submit(fn TaskFunc) {
	ts.mu.Lock()
	ts.oneShot = append(ts.oneShot, fn)
	ts.mu.Unlock()
	ts.delegate.Notify()
}

// SubmitInterval registers fn to run every interval frames, identified by
// id so it can later be cancelled via CancelInterval. interval of zero is
// rejected silently (never fires) to avoid a divide-by-zero in execute.
// Registering the first interval task wakes the delegate; execute then
// keeps it permanently ready for as long as any interval task remains, so
// the frame-modulo check in execute runs every cycle rather than only
// when something else happens to wake it.
func (ts *TaskService) SubmitInterval(id string, interval uint64, fn TaskFunc) {
	if interval == 0 {
		return
	}
	ts.mu.Lock()
	ts.intervals[id] = &intervalTask{id: id, interval: interval, fn: fn}
	ts.mu.Unlock()
	ts.delegate.Notify()
}

// CancelInterval removes a previously registered interval task.
func (ts *TaskService) CancelInterval(id string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.intervals, id)
}

// execute is the TaskService's ExecuteFunc: it drains every pending
// one-shot task and runs any interval task whose period divides frame. If
// any interval task remains registered, it re-arms the delegate's
// available counter to exactly 1 once the Registrar's post-execute
// bookkeeping subtracts this cycle's work, keeping the delegate ready
// every subsequent cycle regardless of one-shot submissions.
func (ts *TaskService) execute(frame uint64) int {
	ts.mu.Lock()
	oneShot := ts.oneShot
	ts.oneShot = nil
	due := make([]*intervalTask, 0)
	for _, it := range ts.intervals {
		if frame%it.interval == 0 {
			due = append(due, it)
		}
	}
	hasIntervals := len(ts.intervals) > 0
	ts.mu.Unlock()

	for _, fn := range oneShot {
		fn()
	}
	for _, it := range due {
		it.fn()
	}

	workDone := len(oneShot) + len(due)
	if hasIntervals {
		if delta := int64(workDone) + 1 - ts.delegate.available.Load(); delta != 0 {
			ts.delegate.markAvailable(delta)
		}
	}
	return workDone
}

// PendingOneShot reports how many one-shot tasks are queued but not yet
// run, mainly useful for tests.
func (ts *TaskService) PendingOneShot() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.oneShot)
}
