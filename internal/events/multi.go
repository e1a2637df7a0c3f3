package events

import (
	"context"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

// Multi fans an event out to several notifiers in order.
type Multi []certledger.Notifier

// Notify implements certledger.Notifier.
func (m Multi) Notify(ctx context.Context, ev certledger.Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}
