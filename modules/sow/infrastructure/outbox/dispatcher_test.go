package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/pkg/composables"
	"github.com/sowflow/sowflow/pkg/constants"
	"github.com/sowflow/sowflow/pkg/eventbus"
	"github.com/sowflow/sowflow/pkg/outbox"
	"github.com/sowflow/sowflow/pkg/repo"
)

func TestDispatcher_PublishesDecodedEvent(t *testing.T) {
	bus := eventbus.New(nil)
	var got *events.WorkflowEventV1
	var gotMeta *outbox.Meta
	bus.Subscribe(func(ctx context.Context, meta *outbox.Meta, ev *events.WorkflowEventV1) error {
		gotMeta, got = meta, ev
		return nil
	})

	ev := events.WorkflowEventV1{
		EventID:    uuid.New(),
		Topic:      events.TopicWorkflowDecidedV1,
		DocumentID: uuid.New(),
		Decision:   "approved",
		Status:     "in_review",
	}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	err = NewDispatcher(bus).Dispatch(context.Background(), outbox.Delivery{
		Meta:    outbox.Meta{Topic: ev.Topic, EventID: ev.EventID, Sequence: 7},
		Payload: payload,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ev.EventID, got.EventID)
	require.Equal(t, "approved", got.Decision)
	require.Equal(t, int64(7), gotMeta.Sequence)
}

func TestDispatcher_RejectsUnknownTopic(t *testing.T) {
	err := NewDispatcher(eventbus.New(nil)).Dispatch(context.Background(), outbox.Delivery{
		Meta:    outbox.Meta{Topic: "sow.unknown.v1"},
		Payload: []byte(`{}`),
	})
	require.ErrorContains(t, err, "unsupported topic")
}

func TestDispatcher_RejectsBadPayload(t *testing.T) {
	err := NewDispatcher(eventbus.New(nil)).Dispatch(context.Background(), outbox.Delivery{
		Meta:    outbox.Meta{Topic: events.TopicWorkflowRecalledV1},
		Payload: []byte(`{`),
	})
	require.ErrorContains(t, err, "decode payload")
}

type recordingPublisher struct {
	tx  repo.Tx
	msg outbox.Message
}

func (p *recordingPublisher) Enqueue(ctx context.Context, tx repo.Tx, msg outbox.Message) (int64, error) {
	p.tx, p.msg = tx, msg
	return 1, nil
}

type nopTx struct{}

func (nopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (nopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (nopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (nopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) { return nil, nil }
func (nopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row        { return nil }

func TestEmitter_EnqueuesWithContextTx(t *testing.T) {
	pub := &recordingPublisher{}
	ev := &events.WorkflowEventV1{
		EventID:    uuid.New(),
		Topic:      events.TopicWorkflowInitiatedV1,
		DocumentID: uuid.New(),
	}
	ctx := context.WithValue(context.Background(), constants.TxKey, repo.Tx(nopTx{}))

	require.NoError(t, NewEmitter(pub).Emit(ctx, ev))
	require.NotNil(t, pub.tx)
	require.Equal(t, ev.DocumentID, pub.msg.AggregateID)
	require.Equal(t, ev.Topic, pub.msg.Topic)
	require.Equal(t, ev.EventID, pub.msg.EventID)
	require.JSONEq(t, string(mustJSON(t, ev)), string(pub.msg.Payload))
}

func TestEmitter_RequiresTransactionOrPool(t *testing.T) {
	err := NewEmitter(&recordingPublisher{}).Emit(context.Background(), &events.WorkflowEventV1{})
	require.ErrorIs(t, err, composables.ErrNoPool)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
