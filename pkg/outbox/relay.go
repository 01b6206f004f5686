package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Relay polls the outbox table and hands claimed messages to a Dispatcher.
// Failed deliveries are retried with exponential backoff until MaxAttempts,
// after which the row is marked dead.
type Relay struct {
	q          queue
	leader     leader
	table      pgx.Identifier
	tableLabel string
	dispatcher Dispatcher
	opts       RelayOptions
	m          *metrics
	now        func() time.Time
}

func NewRelay(pool *pgxpool.Pool, table pgx.Identifier, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}
	return newRelay(newPGQueue(pool, table), newAdvisoryLeader(pool, table), table, dispatcher, opts), nil
}

func newRelay(q queue, l leader, table pgx.Identifier, dispatcher Dispatcher, opts RelayOptions) *Relay {
	opts.setDefaults()
	return &Relay{
		q:          q,
		leader:     l,
		table:      table,
		tableLabel: TableLabel(table),
		dispatcher: dispatcher,
		opts:       opts,
		m:          getMetrics(),
		now:        time.Now,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	if !r.opts.SingleActive || r.leader == nil {
		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
		return r.loop(ctx)
	}
	for {
		release, ok, err := r.leader.acquire(ctx)
		if err != nil {
			r.opts.Logger.WithError(err).Warn("outbox: leader election failed")
		}
		if ok {
			r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
			r.opts.Logger.WithField("table", r.tableLabel).Info("outbox: relay became leader")
			err := r.loop(ctx)
			release()
			r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
			return err
		}
		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}
	}
}

func (r *Relay) loop(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if now := r.now(); now.After(nextDepthAt) {
			if n, err := r.q.pending(ctx); err == nil {
				r.m.pending.WithLabelValues(r.tableLabel).Set(float64(n))
			}
			nextDepthAt = now.Add(r.opts.ObserveQueueDepthEvery)
		}

		if _, err := r.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).Warn("outbox: process tick failed")
		}
	}
}

// processOnce claims one batch and settles every message in it. It returns
// the number of messages claimed.
func (r *Relay) processOnce(ctx context.Context) (int, error) {
	now := r.now()
	batch, err := r.q.claim(ctx, now, now.Add(-r.opts.LockTTL), r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, c := range batch {
		r.deliver(ctx, c)
	}
	return len(batch), nil
}

func (r *Relay) deliver(ctx context.Context, c claimed) {
	log := r.opts.Logger.WithFields(logrus.Fields{
		"table":        r.tableLabel,
		"topic":        c.Topic,
		"event_id":     c.EventID.String(),
		"aggregate_id": c.AggregateID.String(),
		"attempts":     c.Attempts,
	})

	carrier := propagation.MapCarrier{"traceparent": c.TraceParent, "tracestate": c.TraceState}
	dctx := otel.GetTextMapPropagator().Extract(ctx, carrier)
	dctx, cancel := context.WithTimeout(dctx, r.opts.DispatchTimeout)
	start := time.Now()
	err := r.dispatcher.Dispatch(dctx, Delivery{
		Meta: Meta{
			Table:       r.table,
			AggregateID: c.AggregateID,
			Topic:       c.Topic,
			EventID:     c.EventID,
			Sequence:    c.Sequence,
			Attempts:    c.Attempts,
			TraceParent: c.TraceParent,
			TraceState:  c.TraceState,
		},
		Payload: c.Payload,
	})
	cancel()
	latency := time.Since(start)

	if err == nil {
		r.record(c.Topic, "success", latency)
		if ackErr := r.q.ack(ctx, c.ID); ackErr != nil {
			log.WithError(ackErr).Warn("outbox: ack failed")
		}
		return
	}

	r.record(c.Topic, "failure", latency)
	lastErr := truncateError(err, r.opts.LastErrorMaxLen)
	if c.Attempts >= r.opts.MaxAttempts {
		r.m.deadTotal.WithLabelValues(r.tableLabel, c.Topic).Inc()
		log.WithError(err).Error("outbox: message dead after max attempts")
		if deadErr := r.q.dead(ctx, c.ID, lastErr); deadErr != nil {
			log.WithError(deadErr).Warn("outbox: dead update failed")
		}
		return
	}

	next := r.now().Add(retryDelay(c.Attempts, r.opts.MaxBackoff, r.opts.Rand, r.opts.JitterMax))
	log.WithError(err).Warn("outbox: dispatch failed, will retry")
	if retryErr := r.q.retry(ctx, c.ID, lastErr, next); retryErr != nil {
		log.WithError(retryErr).Warn("outbox: retry update failed")
	}
}

func (r *Relay) record(topic, result string, latency time.Duration) {
	r.m.dispatchTotal.WithLabelValues(r.tableLabel, topic, result).Inc()
	r.m.dispatchLatency.WithLabelValues(r.tableLabel, topic, result).Observe(latency.Seconds())
}
