package intake

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/intake-chat/internal/domain"
)

type storedMessage struct {
	Role    domain.Role
	Content string
}

type fakeStore struct {
	mu       sync.Mutex
	messages []storedMessage
	vehicles map[int]domain.Vehicle
	syncs    []domain.Session
	upserts  int

	appendErr error
	upsertErr error
	syncErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{vehicles: make(map[int]domain.Vehicle)}
}

func (s *fakeStore) AppendMessage(_ context.Context, _ string, role domain.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.messages = append(s.messages, storedMessage{Role: role, Content: content})
	return nil
}

func (s *fakeStore) UpsertVehicle(_ context.Context, v *domain.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.vehicles[v.Position] = *v
	return nil
}

func (s *fakeStore) SyncSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncErr != nil {
		return s.syncErr
	}
	s.syncs = append(s.syncs, *session)
	return nil
}

func (s *fakeStore) lastSync() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.syncs) == 0 {
		return domain.Session{}
	}
	return s.syncs[len(s.syncs)-1]
}

func (s *fakeStore) lastMessage() storedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return storedMessage{}
	}
	return s.messages[len(s.messages)-1]
}

// cooperativeExtractor behaves like a well-behaved model: it accepts every
// answer and returns it under the step's first field, decoding numbers the
// way a JSON reply would carry them.
type cooperativeExtractor struct {
	contracts []Contract
}

func (e *cooperativeExtractor) Extract(_ context.Context, c Contract, input string) (Decision, error) {
	e.contracts = append(e.contracts, c)

	fields := map[string]any{}
	switch c.Step {
	case StepAddVehicle, StepAddAnotherVehicle:
		if strings.EqualFold(input, "yes") {
			fields["add_vehicle"] = true
		} else {
			fields["no_vehicle"] = true
		}
	case StepCommuteDays, StepCommuteMiles, StepAnnualMileage:
		n, err := strconv.ParseFloat(input, 64)
		if err != nil {
			return Decision{Valid: false, Message: "Please enter a number."}, nil
		}
		fields[c.Fields[0]] = n
	default:
		fields[c.Fields[0]] = input
	}
	return Decision{Valid: true, Message: "ok: " + string(c.Step), Fields: fields}, nil
}

// fixedExtractor returns the same decision for every call.
type fixedExtractor struct {
	decision Decision
	err      error
	calls    int
}

func (e *fixedExtractor) Extract(context.Context, Contract, string) (Decision, error) {
	e.calls++
	return e.decision, e.err
}

var errBoom = errors.New("boom")
