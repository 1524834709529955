package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmynk/groupledger/internal/ledger"
)

// Repairer fills in deferred multipliers.
type Repairer interface {
	RepairDeferredRates(ctx context.Context, groupID string) (ledger.RepairResult, error)
}

// Consumer is the receiving side of a Client.
type Consumer interface {
	ConsumeRateDeferred(ctx context.Context, handler func(context.Context, *RateDeferredMessage) error) error
	Close() error
}

// Worker repairs deferred rates as messages arrive, reconnecting with
// exponential backoff when the broker goes away.
type Worker struct {
	dial     func() (Consumer, error)
	repairer Repairer
	logger   *slog.Logger
}

// NewWorker creates a Worker. dial opens a fresh consumer.
func NewWorker(dial func() (Consumer, error), repairer Repairer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{dial: dial, repairer: repairer, logger: logger}
}

// Handle repairs the message's group. Transactions still unresolved stay
// deferred; ComputeDues or the next message retries them.
func (w *Worker) Handle(ctx context.Context, msg *RateDeferredMessage) error {
	res, err := w.repairer.RepairDeferredRates(ctx, msg.GroupID)
	if errors.Is(err, ledger.ErrNotFound) {
		w.logger.Info("dropping message for missing group", "group_id", msg.GroupID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("repair group %s: %w", msg.GroupID, err)
	}
	w.logger.Info("processed rate deferred message",
		"group_id", msg.GroupID,
		"transaction_id", msg.TransactionID,
		"repaired", res.Repaired,
		"pending", res.Pending,
	)
	return nil
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		consumer, err := w.dial()
		if err == nil {
			attempt = 0
			err = consumer.ConsumeRateDeferred(ctx, w.Handle)
			consumer.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		if !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		w.logger.Warn("broker connection lost, retrying", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// exponentialBackoff doubles from one second up to a 30 second cap.
func exponentialBackoff(attempt int) time.Duration {
	const maxBackoff = 30 * time.Second
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "channel closed", "eof", "dial", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
