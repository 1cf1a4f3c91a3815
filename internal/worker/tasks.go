package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sadlil/gologger"

	"payments/internal/ledger"
)

const (
	TypeChainConfirm = "chain:confirm"
	QueueChain       = "chain"
)

// ChainConfirmPayload addresses one pending chain-settled transaction.
type ChainConfirmPayload struct {
	TransactionId uint `json:"transaction_id"`
}

// NewChainConfirmTask enqueues a confirmation poll for a chain
// transaction. The task id makes enqueueing idempotent, re-submitting
// the same intent does not add a second poller.
func NewChainConfirmTask(txId uint) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(ChainConfirmPayload{TransactionId: txId})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueChain),
		asynq.TaskID(fmt.Sprintf("%s:%d", TypeChainConfirm, txId)),
		asynq.MaxRetry(120),
		asynq.Timeout(time.Minute),
	}
	return asynq.NewTask(TypeChainConfirm, payload), opts, nil
}

// OpsNotifier alerts operators about reconciliation failures that
// retrying cannot fix.
type OpsNotifier interface {
	NotifyOps(msg string)
}

// NewChainConfirmHandler reconciles the transaction against its
// receipt. Not-mined is returned to asynq so the task retries on the
// backoff schedule; not-found and invariant violations skip retry and
// page the operators instead.
func NewChainConfirmHandler(svc *ledger.Service, fetch ledger.ReceiptFetcher, ops OpsNotifier, logger gologger.GoLogger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p ChainConfirmPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("chain confirm payload: %v: %w", err, asynq.SkipRetry)
		}
		err := svc.PayToBlockchain(ctx, p.TransactionId, fetch)
		if err == nil {
			return nil
		}
		if errors.Is(err, ledger.ErrNotMined) {
			return err
		}
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrInvariant) {
			if logger != (gologger.GoLogger{}) {
				logger.Error(fmt.Sprintf("chain confirm tx %d: %v", p.TransactionId, err))
			}
			if ops != nil {
				ops.NotifyOps(fmt.Sprintf("chain confirmation halted for transaction %d: %v", p.TransactionId, err))
			}
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		// Transient store/rpc faults retry.
		return err
	}
}

// RetryDelay keeps not-mined polling on a steady cadence instead of the
// exponential default; real failures back off normally.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if errors.Is(err, ledger.ErrNotMined) {
		return 30 * time.Second
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

// NewAsynqServer builds the worker-side server for one queue.
func NewAsynqServer(queue string, logger gologger.GoLogger) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		asynq.Config{
			Concurrency:    10,
			Queues:         map[string]int{queue: 1},
			RetryDelayFunc: RetryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				if logger != (gologger.GoLogger{}) {
					logger.Warn(fmt.Sprintf("task %s failed: %v", task.Type(), err))
				}
			}),
		},
	)
}
