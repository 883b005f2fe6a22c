package batch

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/parsast/ytassist-backend/internal/pkg/logger"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewRunner(log)
}

func makeItems(n int) []WorkItem {
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = WorkItem{ID: fmt.Sprintf("vid-%d", i+1), Title: fmt.Sprintf("Video %d", i+1)}
	}
	return items
}

func collect(t *testing.T, events <-chan ProgressEvent) []ProgressEvent {
	t.Helper()
	var out []ProgressEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestRunValidation(t *testing.T) {
	r := testRunner(t)
	if _, err := r.Run(context.Background(), makeItems(1), nil, 2); err == nil {
		t.Fatalf("expected error for nil item function")
	}
	fn := func(ctx context.Context, item WorkItem) Result { return Done("") }
	if _, err := r.Run(context.Background(), makeItems(1), fn, 0); err == nil {
		t.Fatalf("expected error for concurrency 0")
	}
}

func TestRunClampsConcurrency(t *testing.T) {
	r := testRunner(t)
	fn := func(ctx context.Context, item WorkItem) Result { return Done("ok") }

	events, err := r.Run(context.Background(), makeItems(2), fn, 99)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	if all[0].Kind != EventStart {
		t.Fatalf("first event is %q, want start", all[0].Kind)
	}
	if all[0].Parallel != MaxConcurrency {
		t.Fatalf("parallel=%d, want clamp to %d", all[0].Parallel, MaxConcurrency)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	r := testRunner(t)
	fn := func(ctx context.Context, item WorkItem) Result { return Done("") }

	events, err := r.Run(context.Background(), nil, fn, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	if len(all) != 2 {
		t.Fatalf("empty batch emitted %d events, want start+complete", len(all))
	}
	if all[0].Kind != EventStart || all[1].Kind != EventComplete {
		t.Fatalf("bookends wrong: %q, %q", all[0].Kind, all[1].Kind)
	}
	if all[0].Total != 0 || all[1].Total != 0 {
		t.Fatalf("totals wrong: %d, %d", all[0].Total, all[1].Total)
	}
}

func TestRunTallies(t *testing.T) {
	r := testRunner(t)
	fn := func(ctx context.Context, item WorkItem) Result {
		switch item.ID {
		case "vid-2", "vid-5":
			return Skipped("nothing to do")
		case "vid-7":
			return Failed("boom")
		default:
			return Done("ok")
		}
	}

	events, err := r.Run(context.Background(), makeItems(7), fn, 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)

	final := all[len(all)-1]
	if final.Kind != EventComplete {
		t.Fatalf("last event is %q, want complete", final.Kind)
	}
	if final.Completed != 4 || final.Skipped != 2 || final.Failed != 1 {
		t.Fatalf("final tally %d/%d/%d, want 4/2/1", final.Completed, final.Skipped, final.Failed)
	}
	if final.Completed+final.Skipped+final.Failed != final.Total {
		t.Fatalf("tally does not account for every item: %+v", final)
	}

	// Exactly one terminal event per item.
	terminals := map[string]int{}
	for _, ev := range all {
		if ev.Kind == EventProgress && ev.Status != StatusProcessing {
			terminals[ev.ItemID]++
		}
	}
	if len(terminals) != 7 {
		t.Fatalf("terminal events for %d items, want 7", len(terminals))
	}
	for id, n := range terminals {
		if n != 1 {
			t.Fatalf("item %s got %d terminal events", id, n)
		}
	}
}

func TestRunProcessingPrecedesTerminal(t *testing.T) {
	r := testRunner(t)
	fn := func(ctx context.Context, item WorkItem) Result { return Done("ok") }

	events, err := r.Run(context.Background(), makeItems(6), fn, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	processingSeen := map[string]bool{}
	for ev := range events {
		if ev.Kind != EventProgress {
			continue
		}
		if ev.Status == StatusProcessing {
			processingSeen[ev.ItemID] = true
			continue
		}
		if !processingSeen[ev.ItemID] {
			t.Fatalf("item %s finished before its processing event", ev.ItemID)
		}
	}
}

func TestRunPanicIsolation(t *testing.T) {
	r := testRunner(t)
	fn := func(ctx context.Context, item WorkItem) Result {
		if item.ID == "vid-3" {
			panic("item blew up")
		}
		return Done("ok")
	}

	events, err := r.Run(context.Background(), makeItems(5), fn, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)

	final := all[len(all)-1]
	if final.Completed != 4 || final.Failed != 1 || final.Skipped != 0 {
		t.Fatalf("final tally %d/%d/%d, want 4/0/1", final.Completed, final.Skipped, final.Failed)
	}
	for _, ev := range all {
		if ev.ItemID == "vid-3" && ev.Status == StatusFailed {
			if !strings.Contains(ev.Message, "panic") {
				t.Fatalf("panic message lost: %q", ev.Message)
			}
			return
		}
	}
	t.Fatalf("no failed terminal event for the panicking item")
}

func TestRunTruncatesLongMessages(t *testing.T) {
	r := testRunner(t)
	long := strings.Repeat("x", 300)
	fn := func(ctx context.Context, item WorkItem) Result { return Failed(long) }

	events, err := r.Run(context.Background(), makeItems(1), fn, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, ev := range collect(t, events) {
		if ev.Status == StatusFailed {
			if got := len([]rune(ev.Message)); got != maxFailureMessage {
				t.Fatalf("failure message has %d runes, want %d", got, maxFailureMessage)
			}
			return
		}
	}
	t.Fatalf("no failed event observed")
}

func TestRunUnknownStatusBecomesFailed(t *testing.T) {
	r := testRunner(t)
	fn := func(ctx context.Context, item WorkItem) Result {
		return Result{Status: Status("bogus"), Message: "?"}
	}

	events, err := r.Run(context.Background(), makeItems(1), fn, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	final := all[len(all)-1]
	if final.Failed != 1 {
		t.Fatalf("unknown status not counted as failure: %+v", final)
	}
}
