package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/intake-chat/internal/domain"
)

// ErrSessionComplete is returned for input received after the intake finished.
var ErrSessionComplete = errors.New("intake session already complete")

// Store is the persistence the machine needs for one session.
type Store interface {
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error
	UpsertVehicle(ctx context.Context, vehicle *domain.Vehicle) error
	SyncSession(ctx context.Context, session *domain.Session) error
}

// Extractor validates one user answer against a step contract.
type Extractor interface {
	Extract(ctx context.Context, contract Contract, input string) (Decision, error)
}

// Reply is the outcome of one turn.
type Reply struct {
	Text         string
	Step         Step
	Complete     bool
	Transitioned bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger used for turn diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithCatalog replaces the embedded prompt catalog.
func WithCatalog(c *Catalog) Option {
	return func(m *Machine) { m.catalog = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithState starts the machine from an existing turn state instead of the
// initial step.
func WithState(s State) Option {
	return func(m *Machine) { m.state = s.clone() }
}

// Machine drives one intake session. It is not safe for concurrent use; the
// owning connection feeds it one turn at a time.
type Machine struct {
	session   domain.Session
	state     State
	store     Store
	extractor Extractor
	catalog   *Catalog
	logger    *slog.Logger
	now       func() time.Time
}

// NewMachine creates a machine for a freshly created session.
func NewMachine(session *domain.Session, store Store, extractor Extractor, opts ...Option) *Machine {
	m := &Machine{
		session:   *session,
		state:     NewState(),
		store:     store,
		extractor: extractor,
		catalog:   DefaultCatalog(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionID returns the identifier of the driven session.
func (m *Machine) SessionID() string {
	return m.session.ID
}

// State returns a copy of the committed turn state.
func (m *Machine) State() State {
	return m.state.clone()
}

// Complete reports whether the intake has finished.
func (m *Machine) Complete() bool {
	return m.state.Complete()
}

// Handle processes one user answer. On error the committed state is left as
// it was before the turn.
func (m *Machine) Handle(ctx context.Context, input string) (Reply, error) {
	if m.state.Complete() {
		return Reply{}, ErrSessionComplete
	}

	sessionID := m.session.ID
	step := m.state.Step

	if err := m.store.AppendMessage(ctx, sessionID, domain.RoleUser, input); err != nil {
		return Reply{}, fmt.Errorf("append user message: %w", err)
	}

	contract := m.catalog.Contract(step, m.state)
	decision, err := m.extractor.Extract(ctx, contract, input)
	if err != nil {
		return Reply{}, fmt.Errorf("extract %s: %w", step, err)
	}

	next := m.state.clone()
	transitioned := evaluate(&next, decision)

	if transitioned && transitionFor(step).completesVehicle {
		vehicle, err := next.Draft.vehicle(sessionID, len(next.Vehicles), m.now())
		if err != nil {
			return Reply{}, err
		}
		if err := m.store.UpsertVehicle(ctx, vehicle); err != nil {
			return Reply{}, fmt.Errorf("upsert vehicle: %w", err)
		}
		next.Vehicles = append(next.Vehicles, *vehicle)
		next.Draft = VehicleDraft{}
	}

	snapshot := m.snapshot(next)
	if err := m.store.SyncSession(ctx, &snapshot); err != nil {
		return Reply{}, fmt.Errorf("sync session: %w", err)
	}

	complete := next.Complete()
	text := decision.Message
	if complete {
		text = Summarize(next)
	}
	if err := m.store.AppendMessage(ctx, sessionID, domain.RoleAssistant, text); err != nil {
		return Reply{}, fmt.Errorf("append assistant message: %w", err)
	}

	m.state = next
	m.session = snapshot

	m.logger.Debug("Intake turn processed",
		"session_id", sessionID,
		"step", step,
		"next_step", next.Step,
		"valid", decision.Valid,
		"transitioned", transitioned,
		"complete", complete,
	)
	if complete {
		m.logger.Info("Intake session completed",
			"session_id", sessionID,
			"vehicles", len(next.Vehicles),
			"duration", snapshot.Duration(),
		)
	}

	return Reply{
		Text:         text,
		Step:         next.Step,
		Complete:     complete,
		Transitioned: transitioned,
	}, nil
}

// evaluate applies the decision to s. A decision the extractor marked invalid,
// or one whose required fields do not decode, leaves s untouched.
func evaluate(s *State, d Decision) bool {
	if !d.Valid {
		return false
	}
	candidate := s.clone()
	successor, ok := transitionFor(s.Step).apply(&candidate, d)
	if !ok {
		return false
	}
	candidate.Step = successor
	*s = candidate
	return true
}

func (m *Machine) snapshot(s State) domain.Session {
	out := m.session
	out.ZipCode = s.Zip
	out.FullName = s.Name
	out.Email = s.Email
	out.LicenseType = s.LicenseType
	out.LicenseStatus = s.LicenseStatus
	out.CurrentStep = string(s.Step)
	out.IsComplete = s.Complete()
	if out.IsComplete && out.CompletedAt == nil {
		completedAt := m.now()
		out.CompletedAt = &completedAt
	}
	return out
}
