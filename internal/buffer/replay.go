package buffer

import (
	"context"

	"github.com/stablereq/stablereq/pkg/models"
)

// ReplayHandler applies one recorded transaction's effect to state. Handlers
// are keyed by the hook name the original transaction ran under; the replay
// falls back to applying the entry's recorded stateAfter when no handler
// matches, which reproduces the terminal state for purely state-mutating
// transactions.
type ReplayHandler func(state State, entry models.BufferTransactionLog)

// ReplayResult reports how many entries were applied vs skipped by dedupe.
type ReplayResult struct {
	Applied int
	Skipped int
}

// ReplayTransactions applies a recorded transaction-log sequence to the
// buffer in the order given (callers pass entries as read back from a
// persisted log, i.e. in original enqueue order). Each entry is applied as a
// real buffer transaction, so a live logger sees the replay too. When dedupe
// is true, entries whose TransactionID has already been seen are skipped
// instead of replayed; Applied+Skipped always equals len(entries).
func (b *Buffer) ReplayTransactions(ctx context.Context, entries []models.BufferTransactionLog, dedupe bool, handlers map[string]ReplayHandler) (ReplayResult, error) {
	seen := make(map[string]bool, len(entries))
	result := ReplayResult{}
	for _, e := range entries {
		if dedupe && seen[e.TransactionID] {
			result.Skipped++
			continue
		}
		seen[e.TransactionID] = true

		entry := e
		_, err := b.Run(ctx, func(state State) (any, error) {
			if h, ok := handlers[entry.HookName]; ok {
				h(state, entry)
				return nil, nil
			}
			for k, v := range entry.StateAfter {
				state[k] = v
			}
			return nil, nil
		}, RunOptions{Activity: "replay", HookName: entry.HookName, ExecutionContext: models.ExecutionContext{
			WorkflowID: entry.WorkflowID,
			BranchID:   entry.BranchID,
			PhaseID:    entry.PhaseID,
			RequestID:  entry.RequestID,
		}})
		if err != nil {
			return result, err
		}
		result.Applied++
	}
	return result, nil
}
