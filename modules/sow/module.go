package sow

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sowflow/sowflow/modules/sow/domain/stage"
	"github.com/sowflow/sowflow/modules/sow/handlers"
	"github.com/sowflow/sowflow/modules/sow/infrastructure/cache"
	"github.com/sowflow/sowflow/modules/sow/infrastructure/notify"
	sowoutbox "github.com/sowflow/sowflow/modules/sow/infrastructure/outbox"
	"github.com/sowflow/sowflow/modules/sow/infrastructure/persistence"
	"github.com/sowflow/sowflow/modules/sow/presentation/controllers"
	"github.com/sowflow/sowflow/modules/sow/services"
	"github.com/sowflow/sowflow/pkg/application"
	"github.com/sowflow/sowflow/pkg/configuration"
	"github.com/sowflow/sowflow/pkg/outbox"
)

type ModuleOptions struct {
	Config *configuration.Configuration
	// Redis enables the stage registry cache when set.
	Redis cache.KV
	// Notifier overrides the notifier built from configuration.
	Notifier notify.Notifier
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{opts: opts}
}

type Module struct {
	opts *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	conf := m.opts.Config
	if conf == nil {
		conf = configuration.Use()
	}

	table, err := outbox.ParseIdentifier(conf.Outbox.Table)
	if err != nil {
		return err
	}
	publisher, err := outbox.NewPublisher(table)
	if err != nil {
		return err
	}

	built := BuildServices(conf, app.Logger(), m.opts.Redis, sowoutbox.NewEmitter(publisher))
	app.RegisterServices(built.Workflow, built.Consistency, built.Reports, built.Stages)
	app.RegisterControllers(controllers.NewWorkflowAPIController(app))

	notifier := m.opts.Notifier
	if notifier == nil {
		notifier, err = NewNotifier(conf, app.Logger())
		if err != nil {
			return err
		}
	}
	handlers.RegisterNotificationHandlers(app, notifier, conf.Slack.Timeout)

	if app.DB() == nil {
		return nil
	}
	if conf.Outbox.RelayEnabled {
		relay, err := outbox.NewRelay(app.DB(), table, sowoutbox.NewDispatcher(app.EventPublisher()), outbox.RelayOptions{
			PollInterval:    conf.Outbox.RelayPollInterval,
			BatchSize:       conf.Outbox.RelayBatchSize,
			LockTTL:         conf.Outbox.RelayLockTTL,
			MaxAttempts:     conf.Outbox.RelayMaxAttempts,
			SingleActive:    conf.Outbox.RelaySingleActive,
			DispatchTimeout: conf.Outbox.RelayDispatchTimeout,
			LastErrorMaxLen: conf.Outbox.LastErrorMaxBytes,
			Logger:          app.Logger().WithField("component", "sow-outbox-relay"),
		})
		if err != nil {
			return fmt.Errorf("sow outbox relay: %w", err)
		}
		app.RegisterBackground(application.BackgroundWorker{Name: "sow-outbox-relay", Run: relay.Run})
	}
	if conf.Outbox.CleanerEnabled {
		cleaner, err := outbox.NewCleaner(app.DB(), table, outbox.CleanerOptions{
			Interval:  conf.Outbox.CleanerInterval,
			Retention: conf.Outbox.CleanerRetention,
			Logger:    app.Logger().WithField("component", "sow-outbox-cleaner"),
		})
		if err != nil {
			return fmt.Errorf("sow outbox cleaner: %w", err)
		}
		app.RegisterBackground(application.BackgroundWorker{Name: "sow-outbox-cleaner", Run: cleaner.Run})
	}
	return nil
}

func (m *Module) Name() string {
	return "sow"
}

type Services struct {
	Workflow    *services.WorkflowService
	Consistency *services.ConsistencyService
	Reports     *services.ReportService
	Stages      *services.StageAdminService
}

// BuildServices wires the services over the Postgres repositories. A nil
// emitter disables outbox events, which suits offline tooling.
func BuildServices(conf *configuration.Configuration, logger *logrus.Logger, kv cache.KV, emitter services.EventEmitter) *Services {
	var stages stage.Repository = persistence.NewStageRepository()
	if kv != nil {
		stages = cache.NewStageRepository(stages, kv, conf.Workflow.StageCacheTTL, logger)
	}
	repos := services.Repositories{
		Documents: persistence.NewDocumentRepository(),
		Stages:    stages,
		Approvals: persistence.NewApprovalRepository(),
		AuditLog:  persistence.NewAuditLogRepository(),
	}
	opts := services.Options{
		AllowRedecision:      conf.Workflow.AllowRedecision,
		EnforceStageAssignee: conf.Workflow.EnforceStageAssignee,
		StoreTimeout:         conf.Workflow.StoreTimeout,
		ReconcileBatchSize:   conf.Workflow.ReconcileBatchSize,
		Emitter:              emitter,
		Logger:               logger,
	}

	consistency := services.NewConsistencyService(repos, opts)
	return &Services{
		Workflow:    services.NewWorkflowService(repos, consistency, opts),
		Consistency: consistency,
		Reports:     services.NewReportService(repos, opts),
		Stages:      services.NewStageAdminService(stages, opts),
	}
}

// NewNotifier always logs and additionally posts to Slack when a webhook is
// configured.
func NewNotifier(conf *configuration.Configuration, logger *logrus.Logger) (notify.Notifier, error) {
	sinks := []notify.Notifier{notify.NewLogNotifier(logger)}
	if conf.Slack.Enabled() {
		slack, err := notify.NewSlackNotifier(notify.SlackOptions{
			WebhookURL: conf.Slack.WebhookURL,
			Channel:    conf.Slack.Channel,
			Timeout:    conf.Slack.Timeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, slack)
	}
	return notify.NewMulti(sinks...), nil
}
