package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sowflow/sowflow/modules/sow/domain/events"
)

// Notifier delivers a human readable workflow notification.
type Notifier interface {
	Notify(ctx context.Context, ev *events.WorkflowEventV1) error
}

// Message renders the text sent to chat sinks.
func Message(ev *events.WorkflowEventV1) string {
	title := ev.DocumentTitle
	if title == "" {
		title = ev.DocumentID.String()
	}
	switch ev.Topic {
	case events.TopicWorkflowInitiatedV1:
		return fmt.Sprintf("SOW %q submitted for approval by %s", title, ev.ActorID)
	case events.TopicWorkflowDecidedV1:
		msg := fmt.Sprintf("SOW %q: stage %q %s by %s", title, ev.StageName, ev.Decision, ev.ActorID)
		if ev.Comment != nil && *ev.Comment != "" {
			msg += fmt.Sprintf(" (%s)", *ev.Comment)
		}
		return msg
	case events.TopicWorkflowRecalledV1:
		return fmt.Sprintf("SOW %q recalled by %s", title, ev.ActorID)
	case events.TopicWorkflowCompletedV1:
		return fmt.Sprintf("SOW %q is now %s", title, ev.Status)
	}
	return fmt.Sprintf("SOW %q: %s", title, ev.Topic)
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ev *events.WorkflowEventV1) error {
	n.logger.WithFields(logrus.Fields{
		"topic":       ev.Topic,
		"document_id": ev.DocumentID.String(),
		"event_id":    ev.EventID.String(),
		"status":      ev.Status,
	}).Info(Message(ev))
	return nil
}

const defaultMultiMemory = 1024

// Multi fans out to every sink. When some sinks fail, the event is
// remembered by EventID so a redelivery by the outbox relay only retries
// the sinks that have not accepted it yet. The memory is per process and
// holds at most defaultMultiMemory partially delivered events; after a
// restart or an eviction a sink may see the same event again, so sinks
// must tolerate at-least-once delivery.
type Multi struct {
	sinks []Notifier
	limit int

	mu        sync.Mutex
	delivered map[uuid.UUID][]bool
	order     []uuid.UUID
}

func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{
		sinks:     sinks,
		limit:     defaultMultiMemory,
		delivered: make(map[uuid.UUID][]bool),
	}
}

// Len reports the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, ev *events.WorkflowEventV1) error {
	done := m.progress(ev.EventID)
	var errs []error
	for i, n := range m.sinks {
		if done[i] {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
			continue
		}
		done[i] = true
	}
	m.remember(ev.EventID, done, len(errs) == 0)
	return errors.Join(errs...)
}

func (m *Multi) progress(id uuid.UUID) []bool {
	done := make([]bool, len(m.sinks))
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(done, m.delivered[id])
	return done
}

func (m *Multi) remember(id uuid.UUID, done []bool, complete bool) {
	if id == uuid.Nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if complete {
		delete(m.delivered, id)
		return
	}
	if _, ok := m.delivered[id]; !ok {
		m.order = append(m.order, id)
	}
	m.delivered[id] = done
	for len(m.delivered) > m.limit && len(m.order) > 0 {
		delete(m.delivered, m.order[0])
		m.order = m.order[1:]
	}
	if len(m.order) > 2*m.limit {
		live := m.order[:0]
		for _, oid := range m.order {
			if _, ok := m.delivered[oid]; ok {
				live = append(live, oid)
			}
		}
		m.order = live
	}
}
