// Package orchestrator runs one conversation turn: it routes the input to an
// action, enforces capability prerequisites, dispatches at most one task agent,
// renders its output and persists the resulting state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/agents"
	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
	"github.com/shre-db/linked-squad/go/assistant/internal/profiles"
	"github.com/shre-db/linked-squad/go/assistant/internal/session"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
	"github.com/shre-db/linked-squad/go/assistant/internal/tracing"
)

var (
	// ErrTurnInFlight is returned when a second turn arrives for a session that is
	// still processing one.
	ErrTurnInFlight = errors.New("a turn is already in progress for this session")

	// ErrPrerequisiteUnmet marks a dispatch that was downgraded because an upstream
	// result or input was missing. It is recorded on the state, never returned.
	ErrPrerequisiteUnmet = errors.New("prerequisite unmet")
)

// Oracle is the routing collaborator. *agents.Router implements it.
type Oracle interface {
	Decide(ctx context.Context, snapshot, transcript, input string) (*agents.Decision, error)
	ExtractInstructions(ctx context.Context, input, conversation, task string) *state.Instructions
	RenderOutput(ctx context.Context, c state.Capability, output any, conversation string, instr *state.Instructions) (string, error)
}

// TurnSink receives one event per completed turn.
type TurnSink interface {
	RecordTurn(ctx context.Context, ev state.TurnEvent) error
}

// TurnSinkFunc adapts a function to TurnSink.
type TurnSinkFunc func(ctx context.Context, ev state.TurnEvent) error

// RecordTurn calls f.
func (f TurnSinkFunc) RecordTurn(ctx context.Context, ev state.TurnEvent) error { return f(ctx, ev) }

// TurnResult is what a caller gets back from HandleTurn.
type TurnResult struct {
	SessionID    string                   `json:"session_id"`
	TurnID       string                   `json:"turn_id"`
	RoutedAction state.Action             `json:"routed_action"`
	Action       state.Action             `json:"action"`
	Reply        string                   `json:"reply"`
	State        *state.ConversationState `json:"state"`
}

// Orchestrator owns the per-turn control flow. It is safe for concurrent use;
// turns for the same session are rejected while one is in flight.
type Orchestrator struct {
	store    session.Store
	agents   map[state.Capability]agents.TaskAgent
	oracle   Oracle
	profiles profiles.Provider
	logger   *zap.Logger

	sinksMu sync.RWMutex
	sinks   []TurnSink

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New wires an orchestrator. agentSet must hold one agent per capability.
func New(store session.Store, agentSet map[state.Capability]agents.TaskAgent, oracle Oracle, provider profiles.Provider, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		agents:   agentSet,
		oracle:   oracle,
		profiles: provider,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// AddTurnSink registers a receiver for turn events.
func (o *Orchestrator) AddTurnSink(sink TurnSink) {
	if sink == nil {
		return
	}
	o.sinksMu.Lock()
	o.sinks = append(o.sinks, sink)
	o.sinksMu.Unlock()
}

// HandleTurn processes one user input. An empty sessionID starts a new session.
// Routing and agent failures become replies; the error is non-nil only when the
// session store fails or another turn for the session is in flight.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, input string) (*TurnResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !o.acquire(sessionID) {
		metrics.TurnsRejected.WithLabelValues("in_flight").Inc()
		return nil, ErrTurnInFlight
	}
	defer o.release(sessionID)

	start := time.Now()
	turnID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, "orchestrator.turn",
		attribute.String("session.id", sessionID),
		attribute.String("turn.id", turnID),
	)
	defer span.End()

	st, err := o.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		st = state.New(sessionID)
		metrics.SessionsCreated.Inc()
		o.logger.Info("Created session", zap.String("session_id", sessionID))
	case err != nil:
		metrics.TurnsRejected.WithLabelValues("store_load").Inc()
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	t := newTurn(o, st, turnID, input)
	t.run(ctx)

	if err := o.store.Save(ctx, st); err != nil {
		metrics.TurnsRejected.WithLabelValues("store_save").Inc()
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	ev := t.event(time.Since(start))
	span.SetAttributes(
		attribute.String("turn.action", string(ev.Action)),
		attribute.String("turn.routed_action", string(ev.RoutedAction)),
	)
	o.emit(ctx, ev)

	return &TurnResult{
		SessionID:    sessionID,
		TurnID:       turnID,
		RoutedAction: t.routed,
		Action:       t.action,
		Reply:        t.reply,
		State:        st,
	}, nil
}

// Session returns the persisted state of a session.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*state.ConversationState, error) {
	return o.store.Load(ctx, sessionID)
}

// Reset deletes a session so the next turn starts fresh.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	if !o.acquire(sessionID) {
		return ErrTurnInFlight
	}
	defer o.release(sessionID)

	if err := o.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	metrics.SessionsDeleted.Inc()
	o.logger.Info("Reset session", zap.String("session_id", sessionID))
	return nil
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	if _, busy := o.inflight[sessionID]; busy {
		return false
	}
	o.inflight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.inflightMu.Lock()
	delete(o.inflight, sessionID)
	o.inflightMu.Unlock()
}

// emit writes the structured turn log and forwards the event to every sink.
func (o *Orchestrator) emit(ctx context.Context, ev state.TurnEvent) {
	status := "ok"
	switch {
	case ev.Fallback:
		status = "fallback"
	case ev.Error != "":
		status = "error"
	}
	metrics.RecordTurn(string(ev.Action), status, float64(ev.DurationMs)/1000)

	fields := []zap.Field{
		zap.String("turn_id", ev.TurnID),
		zap.String("session_id", ev.SessionID),
		zap.Int("turn", ev.TurnNumber),
		zap.String("routed_action", string(ev.RoutedAction)),
		zap.String("action", string(ev.Action)),
		zap.Strings("diff", ev.Diff),
		zap.Int64("duration_ms", ev.DurationMs),
	}
	if ev.Capability != "" {
		fields = append(fields, zap.String("capability", string(ev.Capability)))
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}
	o.logger.Info("Turn completed", fields...)

	o.sinksMu.RLock()
	sinks := append([]TurnSink(nil), o.sinks...)
	o.sinksMu.RUnlock()

	// sinks outlive a canceled request
	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range sinks {
		if err := sink.RecordTurn(sinkCtx, ev); err != nil {
			o.logger.Warn("Turn sink failed", zap.String("turn_id", ev.TurnID), zap.Error(err))
		}
	}
}
