package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/parsast/ytassist-backend/internal/pkg/logger"
)

const (
	// DefaultConcurrency matches the original batch endpoints' default of
	// two parallel workers.
	DefaultConcurrency = 2
	MaxConcurrency     = 4

	// Diagnostics on failed items are truncated so one exploding error
	// cannot bloat the progress stream.
	maxFailureMessage = 100

	// Progress events are pushed through a bounded channel; a slow consumer
	// backpressures the workers instead of growing an unbounded buffer.
	eventBuffer = 16
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// WorkItem is one caller-supplied unit of work.
type WorkItem struct {
	ID    string
	Title string
	Data  any
}

// Result is the terminal outcome an ItemFunc reports for one item.
type Result struct {
	Status  Status
	Message string
}

func Done(message string) Result    { return Result{Status: StatusDone, Message: message} }
func Skipped(message string) Result { return Result{Status: StatusSkipped, Message: message} }
func Failed(message string) Result  { return Result{Status: StatusFailed, Message: message} }

// ItemFunc processes a single item, typically performing blocking I/O. A
// panic escaping the function is recovered by the runner and converted to a
// failed result, so one item can never take down the batch.
type ItemFunc func(ctx context.Context, item WorkItem) Result

// EventKind distinguishes the stream bookends from per-item progress.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
)

// ProgressEvent is one entry in a batch's progress stream. Terminal events
// arrive in completion order, not input order; consumers must not assume
// index-ordered delivery.
type ProgressEvent struct {
	Kind      EventKind `json:"-"`
	Sequence  int       `json:"-"`
	Current   int       `json:"current,omitempty"`
	Total     int       `json:"total"`
	Parallel  int       `json:"parallel,omitempty"`
	ItemID    string    `json:"video_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// Summary aggregates a finished batch. Completed+Skipped+Failed always
// equals Total.
type Summary struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int
}

// Runner executes per-item functions over a bounded worker pool, streaming
// progress events.
type Runner struct {
	log *logger.Logger
}

func NewRunner(baseLog *logger.Logger) *Runner {
	return &Runner{log: baseLog.With("component", "BatchRunner")}
}

// emitter serializes event delivery and sequence numbering across workers.
type emitter struct {
	mu     sync.Mutex
	seq    int
	total  int
	events chan<- ProgressEvent
}

func (e *emitter) emit(ev ProgressEvent) {
	e.mu.Lock()
	e.seq++
	ev.Sequence = e.seq
	ev.Total = e.total
	e.events <- ev
	e.mu.Unlock()
}

// Run starts concurrency workers over items and returns the progress event
// channel immediately. The channel carries a start bookend, one processing
// event per dispatched item, exactly one terminal event per item, and a
// complete bookend with the final totals, then closes. Concurrency below 1
// is rejected; above MaxConcurrency it is clamped. The batch always runs to
// completion; ctx is handed to fn for per-call timeouts only.
func (r *Runner) Run(ctx context.Context, items []WorkItem, fn ItemFunc, concurrency int) (<-chan ProgressEvent, error) {
	if fn == nil {
		return nil, fmt.Errorf("item function required")
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	events := make(chan ProgressEvent, eventBuffer)
	go r.drive(ctx, items, fn, concurrency, events)
	return events, nil
}

type itemResult struct {
	item   WorkItem
	result Result
}

func (r *Runner) drive(ctx context.Context, items []WorkItem, fn ItemFunc, concurrency int, events chan<- ProgressEvent) {
	defer close(events)

	total := len(items)
	em := &emitter{total: total, events: events}

	em.emit(ProgressEvent{
		Kind:     EventStart,
		Parallel: concurrency,
		Message:  fmt.Sprintf("Starting batch of %d items with %d parallel workers", total, concurrency),
	})

	if total == 0 {
		em.emit(ProgressEvent{Kind: EventComplete, Message: "No items to process"})
		return
	}

	dispatch := make(chan WorkItem)
	results := make(chan itemResult, total)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range dispatch {
				em.emit(ProgressEvent{
					Kind:    EventProgress,
					ItemID:  item.ID,
					Title:   item.Title,
					Status:  StatusProcessing,
					Message: "Processing...",
				})
				results <- itemResult{item: item, result: r.runOne(ctx, fn, item)}
			}
		}()
	}

	go func() {
		for _, item := range items {
			dispatch <- item
		}
		close(dispatch)
		wg.Wait()
		close(results)
	}()

	summary := Summary{Total: total}
	processed := 0
	for res := range results {
		processed++
		switch res.result.Status {
		case StatusDone:
			summary.Completed++
		case StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
		em.emit(ProgressEvent{
			Kind:      EventProgress,
			Current:   processed,
			ItemID:    res.item.ID,
			Title:     res.item.Title,
			Status:    res.result.Status,
			Message:   res.result.Message,
			Completed: summary.Completed,
			Skipped:   summary.Skipped,
			Failed:    summary.Failed,
		})
	}

	em.emit(ProgressEvent{
		Kind:      EventComplete,
		Completed: summary.Completed,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
		Message: fmt.Sprintf("Batch complete: %d done, %d skipped, %d failed",
			summary.Completed, summary.Skipped, summary.Failed),
	})
}

// runOne invokes fn with panic containment. Whatever escapes becomes a
// failed result for this item only.
func (r *Runner) runOne(ctx context.Context, fn ItemFunc, item WorkItem) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Batch item panicked", "item_id", item.ID, "panic", rec)
			res = Failed(truncateMessage(fmt.Sprintf("panic: %v", rec)))
		}
	}()
	res = fn(ctx, item)
	if res.Status != StatusDone && res.Status != StatusSkipped && res.Status != StatusFailed {
		res = Failed(fmt.Sprintf("item function returned unknown status %q", res.Status))
	}
	res.Message = truncateMessage(res.Message)
	return res
}

func truncateMessage(s string) string {
	runes := []rune(s)
	if len(runes) <= maxFailureMessage {
		return s
	}
	return string(runes[:maxFailureMessage])
}
