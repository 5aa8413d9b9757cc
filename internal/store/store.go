// Package store persists intake sessions, their transcripts and vehicles.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/intake-chat/internal/domain"
)

// ErrSessionNotFound is returned when an operation names a session the store
// does not hold.
var ErrSessionNotFound = errors.New("session not found")

// Repository defines the interface for persisting intake sessions.
type Repository interface {
	// CreateSession starts a new session at the initial step and returns it
	// with its generated ID. clientID may be empty.
	CreateSession(ctx context.Context, clientID string) (*domain.Session, error)

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// AppendMessage adds one transcript entry.
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error

	// UpsertVehicle stores a completed vehicle. Writing the same position
	// again replaces the stored record, so the last completed vehicle wins.
	UpsertVehicle(ctx context.Context, vehicle *domain.Vehicle) error

	// SyncSession overwrites the collected fields, current step and completion
	// state of an existing session.
	SyncSession(ctx context.Context, session *domain.Session) error

	// ListMessages returns the transcript in append order.
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// ListVehicles returns the vehicles ordered by position.
	ListVehicles(ctx context.Context, sessionID string) ([]domain.Vehicle, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

const initialStep = "zip"
