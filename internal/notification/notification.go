package notification

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/payo-app/payo_vault/internal/ledger"
)

// Message describes a vault event ready for delivery.
type Message struct {
	Kind   string
	Seq    uint64
	Fields map[string]string
}

// FromEvent flattens a ledger event into a message. Zero-valued fields are
// left out.
func FromEvent(e ledger.Event) Message {
	fields := map[string]string{
		"amount": e.Amount.Dec(),
		"at":     e.At.UTC().Format(time.RFC3339Nano),
	}
	putHash := func(name string, h common.Hash) {
		if h != (common.Hash{}) {
			fields[name] = h.Hex()
		}
	}
	putHash("transfer_id", e.TransferID)
	putHash("id_hash", e.IDHash)
	putHash("from_hash", e.FromHash)
	putHash("to_hash", e.ToHash)
	putHash("pending_tx", e.TxHash)
	if e.Address != (common.Address{}) {
		fields["address"] = e.Address.Hex()
	}
	return Message{Kind: string(e.Kind), Seq: e.Seq, Fields: fields}
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{slog.String("kind", message.Kind), slog.Uint64("seq", message.Seq)}
	for k, v := range message.Fields {
		attrs = append(attrs, slog.String(k, v))
	}
	n.logger.Info("vault event", attrs...)
	return nil
}

// StreamNotifier appends notifications to a Redis stream.
type StreamNotifier struct {
	cache  *redis.Client
	stream string
	maxLen int64
}

// NewStreamNotifier publishes to stream, trimming it to roughly maxLen
// entries when maxLen > 0.
func NewStreamNotifier(cache *redis.Client, stream string, maxLen int64) *StreamNotifier {
	return &StreamNotifier{cache: cache, stream: stream, maxLen: maxLen}
}

func (n *StreamNotifier) Send(ctx context.Context, message Message) error {
	values := map[string]any{
		"kind": message.Kind,
		"seq":  strconv.FormatUint(message.Seq, 10),
	}
	for k, v := range message.Fields {
		values[k] = v
	}
	args := &redis.XAddArgs{Stream: n.stream, Values: values}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}
	return n.cache.XAdd(ctx, args).Err()
}

// Multi fans a message out to every notifier, in order, and returns the
// joined errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
