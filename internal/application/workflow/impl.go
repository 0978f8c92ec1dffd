package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/entity"
	"github.com/garyjia/statecore/internal/domain/event"
	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
	"github.com/garyjia/statecore/internal/metrics"
)

const (
	tracerName            = "github.com/garyjia/statecore/internal/application/workflow"
	defaultPublishTimeout = 5 * time.Second
)

// engineImpl is the concrete implementation of TransitionEngine.
// It holds no per-entity locks: the conditional update inside the
// transaction is the only serialization point.
type engineImpl struct {
	entities  port.EntityStateRepository
	audits    port.AuditRepository
	txManager port.TransactionManager
	publisher port.EventPublisher

	logger         *zap.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	now            func() time.Time
	publishTimeout time.Duration
}

// EngineOption configures the transition engine
type EngineOption func(*engineImpl)

// WithPublisher sets the publisher used for committed transitions
func WithPublisher(p port.EventPublisher) EngineOption {
	return func(e *engineImpl) {
		e.publisher = p
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithMetrics records transition counters and latencies
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithTracer overrides the global OpenTelemetry tracer
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		e.tracer = t
	}
}

// WithClock sets the clock used for updated_at and audit timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithPublishTimeout bounds how long a post-commit publish may take
func WithPublishTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		if d > 0 {
			e.publishTimeout = d
		}
	}
}

// NewEngine creates a new transition engine
func NewEngine(
	entities port.EntityStateRepository,
	audits port.AuditRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) TransitionEngine {
	e := &engineImpl{
		entities:       entities,
		audits:         audits,
		txManager:      txManager,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecuteTransition validates, commits state plus audit atomically, then publishes
func (e *engineImpl) ExecuteTransition(ctx context.Context, machine *domainwf.Machine, req TransitionRequest) Outcome {
	started := time.Now()

	ctx, span := e.tracer.Start(ctx, "workflow.ExecuteTransition", trace.WithAttributes(
		attribute.String("entity.type", req.EntityType),
		attribute.String("entity.id", req.EntityID),
		attribute.String("transition.event", req.Event.String()),
		attribute.String("transition.from", req.CurrentState.String()),
	))
	defer span.End()

	outcome := e.execute(ctx, machine, req)

	e.metrics.ObserveTransition(req.EntityType, req.Event.String(), outcomeLabel(outcome), time.Since(started))
	if outcome.Success {
		span.SetAttributes(
			attribute.String("transition.to", outcome.NewState.String()),
			attribute.String("audit.id", outcome.AuditID),
		)
	} else {
		span.SetStatus(codes.Error, outcome.Message())
	}

	return outcome
}

func (e *engineImpl) execute(ctx context.Context, machine *domainwf.Machine, req TransitionRequest) Outcome {
	if err := validateRequest(machine, req); err != nil {
		e.logRejection(req, err)
		return failure(KindValidation, err)
	}

	// Validate first; rejected attempts touch no storage and are not audited
	decision := domainwf.CanTransition(machine, domainwf.TransitionContext{
		CurrentState: req.CurrentState,
		Event:        req.Event,
		Actor:        req.Actor,
		ActorID:      req.ActorID,
		Metadata:     req.Metadata,
	})
	if !decision.Allowed {
		e.logRejection(req, decision.Err)
		return failure(KindValidation, decision.Err)
	}

	now := e.now().UTC()
	record := &entity.AuditRecord{
		ID:         uuid.NewString(),
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		FromState:  req.CurrentState.String(),
		ToState:    decision.NextState.String(),
		Event:      req.Event.String(),
		Actor:      req.Actor,
		ActorID:    req.ActorID,
		Metadata:   maps.Clone(req.Metadata),
		CreatedAt:  now,
	}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.entities.UpdateState(txCtx, req.EntityType, req.EntityID,
			record.FromState, record.ToState, now); err != nil {
			return err
		}
		if err := e.audits.Create(txCtx, record); err != nil {
			return fmt.Errorf("failed to create audit record: %w", err)
		}
		return nil
	})
	if err != nil {
		return e.commitFailure(req, err)
	}

	e.logger.Info("Transition committed",
		zap.String("entity_type", req.EntityType),
		zap.String("entity_id", req.EntityID),
		zap.String("from_state", record.FromState),
		zap.String("to_state", record.ToState),
		zap.String("event", record.Event),
		zap.String("actor", req.Actor),
		zap.String("audit_id", record.ID))

	e.publish(ctx, record)

	return Outcome{
		Success:  true,
		NewState: decision.NextState,
		AuditID:  record.ID,
	}
}

func validateRequest(machine *domainwf.Machine, req TransitionRequest) error {
	if machine == nil {
		return fmt.Errorf("%w: nil machine", domainwf.ErrInvalidDefinition)
	}
	if req.EntityID == "" {
		return errors.New("entity id is required")
	}
	if req.EntityType != machine.Name() {
		return fmt.Errorf("machine %s cannot transition entity type %q", machine.Name(), req.EntityType)
	}
	return nil
}

func (e *engineImpl) commitFailure(req TransitionRequest, err error) Outcome {
	fields := []zap.Field{
		zap.String("entity_type", req.EntityType),
		zap.String("entity_id", req.EntityID),
		zap.String("from_state", req.CurrentState.String()),
		zap.String("event", req.Event.String()),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, port.ErrEntityNotFound):
		e.logger.Warn("Transition target not found", fields...)
		return failure(KindNotFound, port.ErrEntityNotFound)
	case errors.Is(err, port.ErrStateConflict):
		e.logger.Warn("Transition lost a concurrent update", fields...)
		return failure(KindConflict, port.ErrStateConflict)
	default:
		e.logger.Error("Transition transaction failed", fields...)
		return failure(KindTransaction, err)
	}
}

func (e *engineImpl) logRejection(req TransitionRequest, err error) {
	e.logger.Warn("Transition rejected",
		zap.String("entity_type", req.EntityType),
		zap.String("entity_id", req.EntityID),
		zap.String("from_state", req.CurrentState.String()),
		zap.String("event", req.Event.String()),
		zap.String("actor", req.Actor),
		zap.String("actor_id", req.ActorID),
		zap.Error(err))
}

// publish runs after commit. Nothing it does can change the outcome.
func (e *engineImpl) publish(ctx context.Context, record *entity.AuditRecord) {
	if e.publisher == nil {
		return
	}

	evt := event.NewStateChanged(event.TransitionData{
		EntityID:   record.EntityID,
		EntityType: record.EntityType,
		FromState:  record.FromState,
		ToState:    record.ToState,
		Event:      record.Event,
		Actor:      record.Actor,
		ActorID:    record.ActorID,
		AuditID:    record.ID,
		Metadata:   record.Metadata,
	}, record.CreatedAt)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.publishTimeout)
	defer cancel()

	if err := e.safePublish(pubCtx, evt); err != nil {
		e.metrics.ObservePublishFailure(record.EntityType)
		e.logger.Warn("Failed to publish transition event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.String("entity_id", record.EntityID),
			zap.String("audit_id", record.ID),
			zap.Error(err))
	}
}

func (e *engineImpl) safePublish(ctx context.Context, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return e.publisher.Publish(ctx, evt)
}

func outcomeLabel(o Outcome) string {
	switch o.Kind {
	case KindNone:
		return metrics.OutcomeCommitted
	case KindValidation:
		return metrics.OutcomeRejected
	case KindNotFound:
		return metrics.OutcomeNotFound
	case KindConflict:
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeTransaction
	}
}
