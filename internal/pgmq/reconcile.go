package pgmq

import (
	"context"
	"time"
)

// ReconcileJob asks the reconcile worker to recompute a user's cached balance.
type ReconcileJob struct {
	UserID     string    `json:"user_id"`
	Reason     string    `json:"reason"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ReconcileQueue enqueues balance reconciliation jobs on a named queue.
type ReconcileQueue struct {
	client *Client
	queue  string
}

// NewReconcileQueue binds a client to queue.
func NewReconcileQueue(client *Client, queue string) *ReconcileQueue {
	return &ReconcileQueue{client: client, queue: queue}
}

// EnqueueReconcile sends a job for userID.
func (q *ReconcileQueue) EnqueueReconcile(ctx context.Context, userID, reason string) error {
	_, err := q.client.SendJSON(ctx, q.queue, ReconcileJob{
		UserID:     userID,
		Reason:     reason,
		EnqueuedAt: time.Now().UTC(),
	})
	return err
}
