package journal

import (
	"context"
	"sync"
)

type outboxKey struct{}

// Outbox holds the publications of entries written inside a transaction
// until the transaction has committed.
type Outbox struct {
	mu      sync.Mutex
	pending []func(context.Context)
}

// WithOutbox returns a context whose journal publications wait for Flush.
// A context that already carries an outbox is returned unchanged with a nil
// Outbox; the owner of the outer one flushes.
func WithOutbox(ctx context.Context) (context.Context, *Outbox) {
	if _, ok := ctx.Value(outboxKey{}).(*Outbox); ok {
		return ctx, nil
	}
	ob := &Outbox{}
	return context.WithValue(ctx, outboxKey{}, ob), ob
}

func (o *Outbox) add(fn func(context.Context)) {
	o.mu.Lock()
	o.pending = append(o.pending, fn)
	o.mu.Unlock()
}

// Flush publishes everything held, in write order.
func (o *Outbox) Flush(ctx context.Context) {
	if o == nil {
		return
	}
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()
	for _, fn := range pending {
		fn(ctx)
	}
}

// Discard drops everything held.
func (o *Outbox) Discard() {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
}
