package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"
	"vision2viral/internal/pgmq"

	"github.com/rs/zerolog"
)

// Queue is the subset of the pgmq client the worker uses.
type Queue interface {
	ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, timeoutSec int) ([]*pgmq.Message, error)
	Delete(ctx context.Context, queue string, msgID int64) error
	SetVisibility(ctx context.Context, queue string, msgID int64, delay time.Duration) error
	Send(ctx context.Context, queue string, payload []byte) (int64, error)
}

// Reconciler recomputes a user's cached balance from the ledger.
type Reconciler interface {
	RecomputeBalance(ctx context.Context, userID string) (model.Balance, error)
}

// Options tune polling and retry behavior.
type Options struct {
	Queue           string
	DeadLetterQueue string
	PollTimeoutSec  int
	MaxMessages     int
	MaxRetries      int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
}

// visibilitySec hides a read message while it is being processed.
const visibilitySec = 60

// Worker drains the reconcile queue.
type Worker struct {
	queue  Queue
	ledger Reconciler
	opts   Options
	logger zerolog.Logger
}

// NewWorker creates a Worker with a scoped logger.
func NewWorker(queue Queue, ledger Reconciler, opts Options, logger zerolog.Logger) *Worker {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	return &Worker{
		queue:  queue,
		ledger: ledger,
		opts:   opts,
		logger: logger.With().Str("orchestrator", "reconcile").Str("queue", opts.Queue).Logger(),
	}
}

// Run starts the reconcile orchestrator and returns when ctx is done.
func Run(ctx context.Context, logger zerolog.Logger, queue Queue, ledger Reconciler, opts Options) error {
	return NewWorker(queue, ledger, opts, logger).Run(ctx)
}

func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("Starting reconcile orchestrator")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Shutting down reconcile orchestrator")
			return nil
		default:
		}

		msgs, err := w.queue.ReadWithPoll(ctx, w.opts.Queue, visibilitySec, w.opts.MaxMessages, w.opts.PollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("Error reading reconcile queue")
			sleep(ctx, time.Second)
			continue
		}
		for _, msg := range msgs {
			w.Handle(ctx, msg)
		}
	}
}

// Handle processes one message. Successful and unrecoverable jobs are
// deleted; failed ones are delayed with exponential backoff until MaxRetries
// deliveries, then moved to the dead-letter queue.
func (w *Worker) Handle(ctx context.Context, msg *pgmq.Message) {
	log := w.logger.With().Int64("msg_id", msg.ID).Int("read_count", msg.ReadCount).Logger()

	var job pgmq.ReconcileJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.UserID == "" {
		log.Error().Err(err).Msg("Invalid reconcile payload; deleting message")
		w.ack(ctx, log, msg)
		return
	}
	log = log.With().Str("user_id", job.UserID).Logger()

	balance, err := w.ledger.RecomputeBalance(ctx, job.UserID)
	switch {
	case err == nil:
		log.Info().Int64("credits", balance.Credits).Str("reason", job.Reason).Msg("Balance reconciled")
		w.ack(ctx, log, msg)
	case errors.Is(err, apperror.ErrNotFound):
		log.Warn().Err(err).Msg("Profile no longer exists; dropping reconcile job")
		w.ack(ctx, log, msg)
	case msg.ReadCount >= w.opts.MaxRetries:
		w.deadLetter(ctx, log, msg, err)
	default:
		delay := w.backoff(msg.ReadCount)
		log.Error().Err(err).Dur("retry_in", delay).Msg("Reconcile failed, retrying")
		if err := w.queue.SetVisibility(ctx, w.opts.Queue, msg.ID, delay); err != nil {
			log.Error().Err(err).Msg("Failed to delay reconcile message")
		}
	}
}

func (w *Worker) backoff(readCount int) time.Duration {
	d := w.opts.BackoffInitial
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < readCount; i++ {
		d *= 2
		if w.opts.BackoffMax > 0 && d >= w.opts.BackoffMax {
			return w.opts.BackoffMax
		}
	}
	return d
}

func (w *Worker) deadLetter(ctx context.Context, log zerolog.Logger, msg *pgmq.Message, cause error) {
	if w.opts.DeadLetterQueue != "" {
		if _, err := w.queue.Send(ctx, w.opts.DeadLetterQueue, msg.Data); err != nil {
			log.Error().Err(err).Str("dlq", w.opts.DeadLetterQueue).Msg("Failed to send message to dead-letter queue")
			return
		}
	}
	w.ack(ctx, log, msg)
	log.Warn().Err(cause).Int("attempts", msg.ReadCount).Msg("Exhausted reconcile retries; moved job to DLQ")
}

func (w *Worker) ack(ctx context.Context, log zerolog.Logger, msg *pgmq.Message) {
	if err := w.queue.Delete(ctx, w.opts.Queue, msg.ID); err != nil {
		log.Error().Err(err).Msg("Error deleting reconcile message")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
