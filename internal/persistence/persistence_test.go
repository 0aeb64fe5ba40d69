package persistence

import (
	"context"
	"testing"
)

func TestStoreAtMostOnceAcrossReplay(t *testing.T) {
	c := New("cache", nil)
	ctx := context.Background()

	calls := 0
	hooks := Hooks{
		Store: func(ctx context.Context, state any) error {
			calls++
			return nil
		},
	}

	opID := c.NextOpID(OpStore)
	if err := c.Store(ctx, opID, hooks, map[string]any{"n": 1}); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash-retry replay reusing the same operation id.
	if err := c.Store(ctx, opID, hooks, map[string]any{"n": 1}); err != nil {
		t.Fatal(err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly one store side effect across replay, got %d", calls)
	}
}

func TestLoadReturnsNoPriorState(t *testing.T) {
	c := New("breaker", nil)
	ctx := context.Background()

	hooks := Hooks{
		Load: func(ctx context.Context) (any, error) {
			return nil, nil
		},
	}

	state, ok, err := c.Load(ctx, "", hooks)
	if err != nil {
		t.Fatal(err)
	}
	if ok || state != nil {
		t.Fatalf("expected no prior state, got %v, %v", state, ok)
	}
}

func TestTransactionHookPreferredOverLoadStore(t *testing.T) {
	c := New("cache", nil)
	ctx := context.Background()

	txnCalled := false
	storeCalled := false
	hooks := Hooks{
		Store: func(ctx context.Context, state any) error {
			storeCalled = true
			return nil
		},
		Transaction: func(ctx context.Context, op Op) (TransactionResult, error) {
			txnCalled = true
			return TransactionResult{State: op.State}, nil
		},
	}

	if err := c.Store(ctx, "", hooks, 42); err != nil {
		t.Fatal(err)
	}
	if !txnCalled || storeCalled {
		t.Fatal("expected Transaction hook to be preferred over Store")
	}
}
