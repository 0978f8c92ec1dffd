package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/application/workflow"
	"github.com/garyjia/statecore/internal/domain/entity"
	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
	"github.com/garyjia/statecore/pkg/utils"
)

var (
	// ErrUnknownMachine is returned when no machine governs the entity type
	ErrUnknownMachine = errors.New("no state machine for entity type")

	// ErrInvalidEntityID is returned for an empty or malformed entity id
	ErrInvalidEntityID = errors.New("invalid entity id")
)

// TransitionCommand is a transition request as issued by an outer layer.
// When CurrentState is empty the persisted state is read first.
type TransitionCommand struct {
	EntityType   string
	EntityID     string
	CurrentState string
	Event        string
	Actor        string
	ActorID      string
	Metadata     map[string]any
}

// TransitionService resolves machines from the catalog and drives the engine
type TransitionService interface {
	CreateEntity(ctx context.Context, entityType, entityID string) (*entity.EntityState, error)
	GetEntity(ctx context.Context, entityType, entityID string) (*entity.EntityState, error)
	Transition(ctx context.Context, cmd TransitionCommand) (workflow.Outcome, error)
	Machine(entityType string) (*domainwf.Machine, error)
	MachineNames() []string
}

type transitionServiceImpl struct {
	catalog  *domainwf.Catalog
	engine   workflow.TransitionEngine
	entities port.EntityStateRepository
	now      func() time.Time
	logger   Logger
}

// NewTransitionService creates a new TransitionService
func NewTransitionService(
	catalog *domainwf.Catalog,
	engine workflow.TransitionEngine,
	entities port.EntityStateRepository,
	logger Logger,
) TransitionService {
	return &transitionServiceImpl{
		catalog:  catalog,
		engine:   engine,
		entities: entities,
		now:      time.Now,
		logger:   orNop(logger),
	}
}

// Machine returns the machine for entityType
func (s *transitionServiceImpl) Machine(entityType string) (*domainwf.Machine, error) {
	m, ok := s.catalog.Get(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMachine, entityType)
	}
	return m, nil
}

// MachineNames returns the entity types with a machine, sorted
func (s *transitionServiceImpl) MachineNames() []string {
	return s.catalog.Names()
}

// CreateEntity inserts an entity in its machine's initial state
func (s *transitionServiceImpl) CreateEntity(ctx context.Context, entityType, entityID string) (*entity.EntityState, error) {
	m, err := s.Machine(entityType)
	if err != nil {
		return nil, err
	}
	if m.Initial().IsZero() {
		return nil, fmt.Errorf("machine %s declares no initial state", entityType)
	}
	if err := utils.ValidateIdentifier("entity id", entityID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntityID, err)
	}

	if err := s.entities.Create(ctx, entityType, entityID, m.Initial().String(), s.now().UTC()); err != nil {
		s.logger.Error("Failed to create entity", "error", err, "entity_type", entityType, "entity_id", entityID)
		return nil, fmt.Errorf("create entity: %w", err)
	}

	s.logger.Info("Entity created", "entity_type", entityType, "entity_id", entityID, "status", m.Initial())
	return s.entities.GetState(ctx, entityType, entityID)
}

// GetEntity returns the persisted state of an entity
func (s *transitionServiceImpl) GetEntity(ctx context.Context, entityType, entityID string) (*entity.EntityState, error) {
	if _, err := s.Machine(entityType); err != nil {
		return nil, err
	}
	return s.entities.GetState(ctx, entityType, entityID)
}

// Transition executes cmd. The returned error covers only failures before the
// engine runs (unknown machine, missing entity); everything else is in the Outcome.
func (s *transitionServiceImpl) Transition(ctx context.Context, cmd TransitionCommand) (workflow.Outcome, error) {
	m, err := s.Machine(cmd.EntityType)
	if err != nil {
		return workflow.Outcome{}, err
	}

	current := cmd.CurrentState
	if current == "" {
		state, err := s.entities.GetState(ctx, cmd.EntityType, cmd.EntityID)
		if err != nil {
			return workflow.Outcome{}, err
		}
		current = state.Status
	}

	outcome := s.engine.ExecuteTransition(ctx, m, workflow.TransitionRequest{
		EntityID:     cmd.EntityID,
		EntityType:   cmd.EntityType,
		CurrentState: domainwf.State(current),
		Event:        domainwf.Event(cmd.Event),
		Actor:        cmd.Actor,
		ActorID:      cmd.ActorID,
		Metadata:     cmd.Metadata,
	})
	return outcome, nil
}
