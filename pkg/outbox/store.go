package outbox

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type claimed struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	Topic       string
	Payload     []byte
	EventID     uuid.UUID
	Sequence    int64
	Attempts    int
	TraceParent string
	TraceState  string
}

// queue is the storage side of the relay.
type queue interface {
	claim(ctx context.Context, now, lockCutoff time.Time, maxAttempts, limit int) ([]claimed, error)
	ack(ctx context.Context, id uuid.UUID) error
	retry(ctx context.Context, id uuid.UUID, lastError string, availableAt time.Time) error
	dead(ctx context.Context, id uuid.UUID, lastError string) error
	pending(ctx context.Context) (int64, error)
}

// leader grants exclusive relay ownership of a table.
type leader interface {
	acquire(ctx context.Context) (release func(), ok bool, err error)
}

type pgQueue struct {
	pool  *pgxpool.Pool
	table string
}

func newPGQueue(pool *pgxpool.Pool, table pgx.Identifier) *pgQueue {
	return &pgQueue{pool: pool, table: table.Sanitize()}
}

func (q *pgQueue) claim(ctx context.Context, now, lockCutoff time.Time, maxAttempts, limit int) ([]claimed, error) {
	tx, err := q.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT id, aggregate_id, topic, payload, event_id, sequence, attempts,
		        COALESCE(trace_parent, ''), COALESCE(trace_state, '')
		   FROM %s
		  WHERE published_at IS NULL
		    AND dead_at IS NULL
		    AND available_at <= $1
		    AND attempts < $2
		    AND (locked_at IS NULL OR locked_at < $3)
		  ORDER BY available_at, sequence
		  LIMIT $4
		  FOR UPDATE SKIP LOCKED`, q.table),
		now, maxAttempts, lockCutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox claim select: %w", err)
	}
	var items []claimed
	var ids []uuid.UUID
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.ID, &c.AggregateID, &c.Topic, &c.Payload, &c.EventID, &c.Sequence, &c.Attempts, &c.TraceParent, &c.TraceState); err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox claim scan: %w", err)
		}
		c.Attempts++
		items = append(items, c)
		ids = append(ids, c.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox claim rows: %w", err)
	}

	if len(ids) > 0 {
		update := fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, q.table)
		if _, err := tx.Exec(ctx, update, now, pgtype.FlatArray[uuid.UUID](ids)); err != nil {
			return nil, fmt.Errorf("outbox claim update: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *pgQueue) ack(ctx context.Context, id uuid.UUID) error {
	_, err := q.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET published_at = now(), locked_at = NULL, last_error = NULL
		  WHERE id = $1 AND published_at IS NULL`, q.table), id)
	if err != nil {
		return fmt.Errorf("outbox ack: %w", err)
	}
	return nil
}

func (q *pgQueue) retry(ctx context.Context, id uuid.UUID, lastError string, availableAt time.Time) error {
	_, err := q.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = $3
		  WHERE id = $1 AND published_at IS NULL`, q.table), id, lastError, availableAt)
	if err != nil {
		return fmt.Errorf("outbox retry: %w", err)
	}
	return nil
}

func (q *pgQueue) dead(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := q.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET locked_at = NULL, last_error = $2, dead_at = now()
		  WHERE id = $1 AND published_at IS NULL`, q.table), id, lastError)
	if err != nil {
		return fmt.Errorf("outbox dead: %w", err)
	}
	return nil
}

func (q *pgQueue) pending(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE published_at IS NULL AND dead_at IS NULL`, q.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outbox pending count: %w", err)
	}
	return n, nil
}

type advisoryLeader struct {
	pool *pgxpool.Pool
	key  int64
}

func newAdvisoryLeader(pool *pgxpool.Pool, table pgx.Identifier) *advisoryLeader {
	h := fnv.New64a()
	_, _ = h.Write([]byte("outbox:" + TableLabel(table)))
	return &advisoryLeader{pool: pool, key: int64(h.Sum64())}
}

// acquire holds a session-level advisory lock on a dedicated connection
// until release is called.
func (l *advisoryLeader) acquire(ctx context.Context) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		var unlocked bool
		_ = conn.QueryRow(context.Background(), `SELECT pg_advisory_unlock($1::bigint)`, l.key).Scan(&unlocked)
		conn.Release()
	}
	return release, true, nil
}
