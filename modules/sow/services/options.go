package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/auditlog"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/modules/sow/domain/stage"
	"github.com/sowflow/sowflow/pkg/composables"
)

var tracer = otel.Tracer("sowflow/sow/services")

const defaultStoreTimeout = 5 * time.Second

// TxRunner runs fn inside a transaction bound to the context it receives.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

// EventEmitter writes workflow events next to the state change that caused
// them.
type EventEmitter interface {
	Emit(ctx context.Context, ev *events.WorkflowEventV1) error
}

type Repositories struct {
	Documents document.Repository
	Stages    stage.Registry
	Approvals approval.Repository
	AuditLog  auditlog.Repository
}

type Options struct {
	AllowRedecision      bool
	EnforceStageAssignee bool
	StoreTimeout         time.Duration
	ReconcileBatchSize   int

	InTx    TxRunner
	Emitter EventEmitter
	Logger  *logrus.Logger
	Now     func() time.Time
}

func (o *Options) setDefaults() {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	if o.ReconcileBatchSize <= 0 {
		o.ReconcileBatchSize = 500
	}
	if o.InTx == nil {
		o.InTx = composables.InTx
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// logger prefers the request logger so entries carry the request id.
func (o *Options) logger(ctx context.Context) *logrus.Entry {
	if l, ok := composables.TryUseLogger(ctx); ok {
		return l
	}
	return logrus.NewEntry(o.Logger)
}

func (o *Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.StoreTimeout)
}
