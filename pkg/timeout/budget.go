package timeout

import (
	"context"
	"time"

	"github.com/flakeguard/flakeguard/pkg/types"
)

// Budget is one frame of the hierarchical timeout stack. A child budget
// is capped to a fraction of its parent's remaining time; unused time
// flows back to the parent automatically because Remaining is computed
// from the frame's own start time.
type Budget struct {
	// OperationType is the timed operation type this frame belongs to
	OperationType string

	// Requested is the timeout asked for before any capping
	Requested time.Duration

	// Effective is the timeout actually enforced
	Effective time.Duration

	// StartedAt is when the frame was entered
	StartedAt time.Time

	parent *Budget
	clock  types.Clock
}

// Remaining returns the unspent time of this frame, never negative and
// never more than the parent's own remaining time.
func (b *Budget) Remaining() time.Duration {
	rem := b.Effective - b.clock.Since(b.StartedAt)
	if rem < 0 {
		rem = 0
	}
	if b.parent != nil {
		if parentRem := b.parent.Remaining(); parentRem < rem {
			rem = parentRem
		}
	}
	return rem
}

// Parent returns the enclosing frame, nil at the root
func (b *Budget) Parent() *Budget {
	return b.parent
}

// Depth returns the stack depth of this frame, 1 at the root
func (b *Budget) Depth() int {
	depth := 0
	for f := b; f != nil; f = f.parent {
		depth++
	}
	return depth
}

type budgetKey struct{}

// WithBudget stores a budget frame in the context so nested Run calls
// find their parent
func WithBudget(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFromContext returns the innermost budget frame, nil if none
func BudgetFromContext(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)
	return b
}
