package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/payo-app/payo_vault/internal/ledger"
)

const (
	defaultRelayInterval = time.Second
	defaultRelayBatch    = 100
)

// Relay drains the ledger outbox into a Notifier. Delivery is at least once
// and in sequence order: a failed send ends the batch and the event is
// retried on the next pass.
type Relay struct {
	store    ledger.Store
	notifier Notifier
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewRelay(store ledger.Store, notifier Notifier, interval time.Duration, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	return &Relay{store: store, notifier: notifier, interval: interval, batch: defaultRelayBatch, logger: logger}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("event relay flush failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush delivers pending events until the outbox is empty or a send fails,
// and returns how many were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	delivered := 0
	for {
		events, err := r.store.Undelivered(ctx, r.batch)
		if err != nil {
			return delivered, fmt.Errorf("load undelivered events: %w", err)
		}
		if len(events) == 0 {
			return delivered, nil
		}

		seqs := make([]uint64, 0, len(events))
		var sendErr error
		for _, e := range events {
			if sendErr = r.notifier.Send(ctx, FromEvent(e)); sendErr != nil {
				sendErr = fmt.Errorf("send event %d: %w", e.Seq, sendErr)
				break
			}
			seqs = append(seqs, e.Seq)
		}
		if len(seqs) > 0 {
			if err := r.store.MarkDelivered(ctx, seqs); err != nil {
				return delivered, fmt.Errorf("mark delivered: %w", err)
			}
			delivered += len(seqs)
		}
		if sendErr != nil {
			return delivered, sendErr
		}
		if len(events) < r.batch {
			return delivered, nil
		}
	}
}
