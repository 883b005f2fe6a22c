package services

import (
	"sync"
	"time"

	"github.com/parsast/ytassist-backend/internal/batch"
)

// maxTrackedRuns bounds the tracker; the oldest run is evicted past it.
const maxTrackedRuns = 64

// RunStatus is the last observed state of one batch run.
type RunStatus struct {
	RunID     string    `json:"run_id"`
	Operation string    `json:"operation"`
	Total     int       `json:"total"`
	Parallel  int       `json:"parallel,omitempty"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Finished  bool      `json:"finished"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressTracker folds batch progress events into per-run status rows.
// Runs started in this process feed it directly from the SSE loop; runs on
// sibling processes arrive through the redis progress bus forwarder. Tally
// updates are monotonic, so replayed or echoed events are harmless.
type ProgressTracker struct {
	mu    sync.Mutex
	runs  map[string]*RunStatus
	order []string
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{runs: map[string]*RunStatus{}}
}

// Record folds one progress event into the run's status row.
func (t *ProgressTracker) Record(runID, operation string, ev batch.ProgressEvent) {
	if runID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		run = &RunStatus{RunID: runID, Operation: operation}
		t.runs[runID] = run
		t.order = append(t.order, runID)
		t.evictLocked()
	}

	if ev.Total > run.Total {
		run.Total = ev.Total
	}
	if ev.Parallel > 0 {
		run.Parallel = ev.Parallel
	}
	if ev.Completed > run.Completed {
		run.Completed = ev.Completed
	}
	if ev.Skipped > run.Skipped {
		run.Skipped = ev.Skipped
	}
	if ev.Failed > run.Failed {
		run.Failed = ev.Failed
	}
	if ev.Kind == batch.EventComplete {
		run.Finished = true
	}
	run.UpdatedAt = time.Now()
}

// Runs returns status rows for tracked runs, most recently started first.
func (t *ProgressTracker) Runs() []RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]RunStatus, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, *t.runs[t.order[i]])
	}
	return out
}

func (t *ProgressTracker) evictLocked() {
	for len(t.order) > maxTrackedRuns {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.runs, oldest)
	}
}
