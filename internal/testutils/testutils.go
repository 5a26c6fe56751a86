package testutils

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flakeguard/flakeguard/pkg/types"
)

// FlakyFunc returns a function that fails with err for the first
// failures calls and succeeds afterwards, together with a call counter.
func FlakyFunc(failures int, err error) (func(ctx context.Context) (any, error), *atomic.Int64) {
	var calls atomic.Int64
	fn := func(ctx context.Context) (any, error) {
		n := calls.Add(1)
		if n <= int64(failures) {
			return nil, err
		}
		return "ok", nil
	}
	return fn, &calls
}

// Records builds an execution history from a success/failure sequence,
// tagging failures with the given kind.
func Records(operationID string, outcomes []bool, failKind types.Kind) []types.ExecutionRecord {
	records := make([]types.ExecutionRecord, 0, len(outcomes))
	for i, ok := range outcomes {
		rec := types.ExecutionRecord{
			OperationID: operationID,
			Timestamp:   time.Unix(int64(i), 0),
			Success:     ok,
			Duration:    100 * time.Millisecond,
		}
		if !ok {
			rec.ErrorKind = failKind
		}
		records = append(records, rec)
	}
	return records
}
