package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/pkg/eventbus"
	"github.com/sowflow/sowflow/pkg/outbox"
)

type recordingNotifier struct {
	got      []*events.WorkflowEventV1
	err      error
	deadline bool
}

func (r *recordingNotifier) Notify(ctx context.Context, ev *events.WorkflowEventV1) error {
	_, r.deadline = ctx.Deadline()
	r.got = append(r.got, ev)
	return r.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestNotificationHandler_ReceivesBusEvents(t *testing.T) {
	bus := eventbus.New(nil)
	n := &recordingNotifier{}
	bus.Subscribe(NewNotificationHandler(n, quietLogger(), time.Second).OnWorkflowEventV1)

	ev := &events.WorkflowEventV1{EventID: uuid.New(), Topic: events.TopicWorkflowDecidedV1}
	require.NoError(t, bus.PublishE(context.Background(), &outbox.Meta{Topic: ev.Topic, EventID: ev.EventID}, ev))

	require.Len(t, n.got, 1)
	require.True(t, n.deadline)
}

func TestNotificationHandler_ReturnsFailureForRetry(t *testing.T) {
	boom := errors.New("slack down")
	h := NewNotificationHandler(&recordingNotifier{err: boom}, quietLogger(), 0)

	err := h.OnWorkflowEventV1(context.Background(), &outbox.Meta{}, &events.WorkflowEventV1{})
	require.ErrorIs(t, err, boom)
	require.Equal(t, defaultNotifyTimeout, h.timeout)
}

func TestNotificationHandler_IgnoresNilEvent(t *testing.T) {
	n := &recordingNotifier{}
	h := NewNotificationHandler(n, nil, time.Second)
	require.NoError(t, h.OnWorkflowEventV1(context.Background(), nil, nil))
	require.Empty(t, n.got)
}
