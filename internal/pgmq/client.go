package pgmq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Client wraps a Postgres DB for pgmq queue operations.
type Client struct {
	db *sql.DB
}

// New returns a new PGMQ client backed by the given DB connection.
func New(db *sql.DB) *Client {
	return &Client{db: db}
}

// Message represents a single pgmq message.
type Message struct {
	ID         int64  // message identifier
	ReadCount  int    // deliveries so far, including this one
	EnqueuedAt time.Time
	Data       []byte // raw JSON payload
}

// Send pushes a JSON payload into the given queue and returns its message id.
func (c *Client) Send(ctx context.Context, queue string, payload []byte) (int64, error) {
	var id int64
	query := "SELECT pgmq.send($1, $2::jsonb, 0)"
	if err := c.db.QueryRowContext(ctx, query, queue, string(payload)).Scan(&id); err != nil {
		return 0, fmt.Errorf("pgmq send failed: %w", err)
	}
	return id, nil
}

// SendJSON marshals v and sends it.
func (c *Client) SendJSON(ctx context.Context, queue string, v any) (int64, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("pgmq marshal payload: %w", err)
	}
	return c.Send(ctx, queue, payload)
}

// ReadWithPoll reads up to maxMessages from the queue, blocking up to timeoutSec
// seconds. Read messages stay invisible for visibilitySec seconds.
func (c *Client) ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, timeoutSec int) ([]*Message, error) {
	query := "SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read_with_poll($1, $2, $3, $4)"
	rows, err := c.db.QueryContext(ctx, query, queue, visibilitySec, maxMessages, timeoutSec)
	if err != nil {
		return nil, fmt.Errorf("pgmq read_with_poll failed: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.EnqueuedAt, &m.Data); err != nil {
			return nil, fmt.Errorf("pgmq read scan failed: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read rows error: %w", err)
	}
	return msgs, nil
}

// Delete removes a message from the queue.
func (c *Client) Delete(ctx context.Context, queue string, msgID int64) error {
	query := "SELECT pgmq.delete($1, $2::bigint)"
	if _, err := c.db.ExecContext(ctx, query, queue, msgID); err != nil {
		return fmt.Errorf("pgmq delete failed: %w", err)
	}
	return nil
}

// SetVisibility delays the next delivery of a message by delay.
func (c *Client) SetVisibility(ctx context.Context, queue string, msgID int64, delay time.Duration) error {
	query := "SELECT msg_id FROM pgmq.set_vt($1, $2::bigint, $3)"
	if _, err := c.db.ExecContext(ctx, query, queue, msgID, int(delay.Seconds())); err != nil {
		return fmt.Errorf("pgmq set_vt failed: %w", err)
	}
	return nil
}
