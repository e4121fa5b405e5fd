package pgmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestSend(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(`SELECT pgmq.send\(\$1, \$2::jsonb, 0\)`).
		WithArgs("balance_reconcile", `{"a":1}`).
		WillReturnRows(sqlmock.NewRows([]string{"send"}).AddRow(int64(42)))

	id, err := c.Send(context.Background(), "balance_reconcile", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendError(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(`SELECT pgmq.send`).WillReturnError(errors.New("queue missing"))

	_, err := c.Send(context.Background(), "q", []byte(`{}`))
	assert.ErrorContains(t, err, "pgmq send failed")
}

func TestReadWithPoll(t *testing.T) {
	c, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"msg_id", "read_ct", "enqueued_at", "message"}).
		AddRow(int64(1), 1, now, []byte(`{"user_id":"u1"}`)).
		AddRow(int64(2), 3, now, []byte(`{"user_id":"u2"}`))
	mock.ExpectQuery(`SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read_with_poll`).
		WithArgs("q", 60, 10, 30).
		WillReturnRows(rows)

	msgs, err := c.ReadWithPoll(context.Background(), "q", 60, 10, 30)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[1].ID)
	assert.Equal(t, 3, msgs[1].ReadCount)
	assert.JSONEq(t, `{"user_id":"u1"}`, string(msgs[0].Data))
}

func TestDeleteAndSetVisibility(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectExec(`SELECT pgmq.delete`).WithArgs("q", int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT msg_id FROM pgmq.set_vt`).WithArgs("q", int64(8), 30).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, c.Delete(context.Background(), "q", 7))
	require.NoError(t, c.SetVisibility(context.Background(), "q", 8, 30*time.Second))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueReconcile(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(`SELECT pgmq.send`).
		WithArgs("balance_reconcile", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"send"}).AddRow(int64(1)))

	q := NewReconcileQueue(c, "balance_reconcile")
	require.NoError(t, q.EnqueueReconcile(context.Background(), "u1", "generation_record_failed"))
	require.NoError(t, mock.ExpectationsWereMet())

	var job ReconcileJob
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u1","reason":"x"}`), &job))
	assert.Equal(t, "u1", job.UserID)
}
