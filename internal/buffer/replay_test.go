package buffer

import (
	"context"
	"testing"

	"github.com/stablereq/stablereq/pkg/models"
)

func TestReplayReproducesTerminalState(t *testing.T) {
	ctx := context.Background()

	var logged []models.BufferTransactionLog
	source := New(nil, func(e models.BufferTransactionLog) {
		logged = append(logged, e)
	})

	_, _ = source.Run(ctx, func(s State) (any, error) {
		s["count"] = 1
		return nil, nil
	}, RunOptions{HookName: "inc"})
	_, _ = source.Run(ctx, func(s State) (any, error) {
		s["count"] = 2
		s["label"] = "done"
		return nil, nil
	}, RunOptions{HookName: "inc"})

	fresh := New(nil, nil)
	result, err := fresh.ReplayTransactions(ctx, logged, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied != 2 || result.Skipped != 0 {
		t.Fatalf("expected 2 applied / 0 skipped, got %+v", result)
	}

	state := fresh.Read()
	if state["count"] != float64(2) && state["count"] != 2 {
		t.Fatalf("expected terminal count 2, got %v", state["count"])
	}
	if state["label"] != "done" {
		t.Fatalf("expected terminal label %q, got %v", "done", state["label"])
	}
}

func TestReplayDedupeSkipsRepeatedTransactionIDs(t *testing.T) {
	ctx := context.Background()

	entries := []models.BufferTransactionLog{
		{TransactionID: "stable-buffer-1-1", StateAfter: map[string]any{"n": 1}},
		{TransactionID: "stable-buffer-1-1", StateAfter: map[string]any{"n": 99}},
		{TransactionID: "stable-buffer-1-2", StateAfter: map[string]any{"n": 2}},
	}

	fresh := New(nil, nil)
	result, err := fresh.ReplayTransactions(ctx, entries, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied+result.Skipped != len(entries) {
		t.Fatalf("expected applied+skipped == %d, got %+v", len(entries), result)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected exactly 1 skipped duplicate, got %d", result.Skipped)
	}

	state := fresh.Read()
	if state["n"] != float64(2) && state["n"] != 2 {
		t.Fatalf("expected duplicate's mutation to be skipped, got n=%v", state["n"])
	}
}

func TestReplayUsesMatchingHandler(t *testing.T) {
	ctx := context.Background()

	entries := []models.BufferTransactionLog{
		{TransactionID: "stable-buffer-2-1", HookName: "counter", HookParams: 5},
	}

	fresh := New(nil, nil)
	handlers := map[string]ReplayHandler{
		"counter": func(state State, entry models.BufferTransactionLog) {
			n, _ := entry.HookParams.(int)
			state["sum"] = n * 2
		},
	}
	if _, err := fresh.ReplayTransactions(ctx, entries, false, handlers); err != nil {
		t.Fatal(err)
	}
	if got := fresh.Read()["sum"]; got != float64(10) && got != 10 {
		t.Fatalf("expected handler-applied sum 10, got %v", got)
	}
}
