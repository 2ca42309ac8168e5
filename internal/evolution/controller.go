// Package evolution governs self-modification. The controller is the only
// component allowed to authorize a change to the agent's own long-term
// rules, and the only one with rollback authority. Evidence accumulation is
// automatic; committing to a change is a separate, deliberate, auditable act.
package evolution

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

// DefaultThreshold is the evidence count required before a pending
// evolution reports threshold reached.
const DefaultThreshold = 3

// InvalidTransitionError identifies a rejected from→to pair. Illegal
// transitions never mutate state.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s→%s", e.From, e.To)
}

// validTransitions is the full FSM graph. Everything else is rejected.
var validTransitions = map[string]map[string]bool{
	store.StateStable:   {store.StateLearning: true},
	store.StateLearning: {store.StateStable: true, store.StateEvolving: true},
	store.StateEvolving: {store.StateStable: true},
}

// Spec describes the change an evolution proposes.
type Spec struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Change string `json:"change"`
}

// EvidenceResult reports the state after an AddEvidence call.
type EvidenceResult struct {
	State            string `json:"state"`
	EvidenceCount    int    `json:"evidence_count"`
	Threshold        int    `json:"threshold"`
	ThresholdReached bool   `json:"threshold_reached"`
}

// Controller serializes all transitions of the singleton evolution state.
// The mutex covers in-process callers; the store's version check covers
// concurrent processes, so two transitions can never both succeed from the
// same starting state.
type Controller struct {
	mu sync.Mutex
	db *store.DB
}

// New creates a Controller backed by the given store.
func New(db *store.DB) *Controller {
	return &Controller{db: db}
}

// State returns the current evolution state.
func (c *Controller) State() (*store.EvolutionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.GetEvolutionState()
}

// AddEvidence records an observation supporting a potential change. From
// STABLE it opens a pending evolution and transitions to LEARNING; from
// LEARNING it appends. Reaching the threshold is reported but never
// auto-transitions: BeginEvolution must be called explicitly.
func (c *Controller) AddEvidence(ev store.Evidence, threshold int) (*EvidenceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}

	s, err := c.db.GetEvolutionState()
	if err != nil {
		return nil, err
	}

	switch s.State {
	case store.StateStable:
		s.Pending = &store.PendingEvolution{
			ID:        uuid.NewString(),
			Evidence:  []store.Evidence{ev},
			Threshold: threshold,
			StartedAt: time.Now().UnixMilli(),
		}
		if err := c.transition(s, store.StateLearning, "evidence accumulation started", false); err != nil {
			return nil, err
		}
	case store.StateLearning:
		s.Pending.Evidence = append(s.Pending.Evidence, ev)
		// Not a state transition: only the pending record changes.
		if err := c.db.UpdateEvolutionState(s); err != nil {
			return nil, err
		}
	default:
		return nil, &InvalidTransitionError{From: s.State, To: store.StateLearning}
	}

	return &EvidenceResult{
		State:            s.State,
		EvidenceCount:    len(s.Pending.Evidence),
		Threshold:        s.Pending.Threshold,
		ThresholdReached: len(s.Pending.Evidence) >= s.Pending.Threshold,
	}, nil
}

// BeginEvolution commits to an in-flight change: it snapshots the
// accumulated evidence into a fresh pending record and transitions
// LEARNING→EVOLVING.
func (c *Controller) BeginEvolution(spec Spec) (*store.PendingEvolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.db.GetEvolutionState()
	if err != nil {
		return nil, err
	}
	if s.State != store.StateLearning {
		return nil, &InvalidTransitionError{From: s.State, To: store.StateEvolving}
	}

	evidence := make([]store.Evidence, len(s.Pending.Evidence))
	copy(evidence, s.Pending.Evidence)

	s.Pending = &store.PendingEvolution{
		ID:        uuid.NewString(),
		Type:      spec.Type,
		Target:    spec.Target,
		Change:    spec.Change,
		Evidence:  evidence,
		Threshold: s.Pending.Threshold,
		StartedAt: time.Now().UnixMilli(),
	}
	if err := c.transition(s, store.StateEvolving, "evolution started: "+spec.Change, false); err != nil {
		return nil, err
	}
	return s.Pending, nil
}

// CompleteEvolution applies an in-flight change: clears the pending record,
// increments the applied counter, and returns to STABLE.
func (c *Controller) CompleteEvolution() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.db.GetEvolutionState()
	if err != nil {
		return err
	}
	if s.State != store.StateEvolving {
		return &InvalidTransitionError{From: s.State, To: store.StateStable}
	}

	s.Pending = nil
	s.EvolutionsApplied++
	return c.transition(s, store.StateStable, "evolution completed", false)
}

// Rollback abandons an in-progress change: the pending record is archived
// with the reason, the rolled-back counter increments, and state returns to
// STABLE. This is the only path abandoning a change that was begun.
func (c *Controller) Rollback(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.db.GetEvolutionState()
	if err != nil {
		return err
	}
	if s.State != store.StateEvolving {
		return &InvalidTransitionError{From: s.State, To: store.StateStable}
	}

	if err := c.db.ArchiveRollback(s.Pending, reason); err != nil {
		return err
	}

	s.Pending = nil
	s.EvolutionsRolledBack++
	return c.transition(s, store.StateStable, "rollback: "+reason, false)
}

// CancelLearning discards accumulated evidence and returns to STABLE. Not
// counted as a rollback: no change was ever applied.
func (c *Controller) CancelLearning(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.db.GetEvolutionState()
	if err != nil {
		return err
	}
	if s.State != store.StateLearning {
		return &InvalidTransitionError{From: s.State, To: store.StateStable}
	}

	s.Pending = nil
	return c.transition(s, store.StateStable, "learning cancelled: "+reason, false)
}

// ForceReset is the emergency escape hatch for stuck states: unconditional
// return to STABLE from any state, discarding any pending record. Bypasses
// transition validation and is always logged with the forced flag and prior
// state for audit review.
func (c *Controller) ForceReset(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.db.GetEvolutionState()
	if err != nil {
		return err
	}

	s.Pending = nil
	return c.transition(s, store.StateStable, "force reset: "+reason, true)
}

// History returns the append-only transition audit trail, oldest first.
func (c *Controller) History() ([]store.TransitionRecord, error) {
	return c.db.TransitionHistory()
}

// Rollbacks returns archived rollback records, newest first.
func (c *Controller) Rollbacks() ([]store.RollbackRecord, error) {
	return c.db.ListRollbacks()
}

// transition validates the edge (unless forced), persists the new state
// atomically, and appends the audit record. Called with the mutex held.
func (c *Controller) transition(s *store.EvolutionState, to, reason string, forced bool) error {
	from := s.State
	if !forced && !validTransitions[from][to] {
		return &InvalidTransitionError{From: from, To: to}
	}

	s.State = to
	s.EnteredAt = time.Now().UnixMilli()
	s.TransitionCount++
	if err := c.db.UpdateEvolutionState(s); err != nil {
		return err
	}

	data := ""
	if s.Pending != nil {
		data = fmt.Sprintf(`{"pending_id":%q,"evidence_count":%d}`, s.Pending.ID, len(s.Pending.Evidence))
	}
	rec := &store.TransitionRecord{From: from, To: to, Reason: reason, Data: data, Forced: forced}
	if err := c.db.AppendTransition(rec); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}
