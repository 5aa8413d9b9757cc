package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/intake-chat/internal/domain"
	"github.com/ashureev/intake-chat/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	maxWriteRetries = 3
	retryBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
	now     func() time.Time
}

// NewSQLite opens (creating if needed) the database at dbPath and applies the
// schema.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_id TEXT,
		zip_code TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		license_type TEXT NOT NULL DEFAULT '',
		license_status TEXT NOT NULL DEFAULT '',
		current_step TEXT NOT NULL DEFAULT 'zip',
		is_complete INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_client ON sessions(client_id) WHERE client_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_complete ON sessions(is_complete, started_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS vehicles (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		vin TEXT NOT NULL,
		use_type TEXT NOT NULL,
		blind_spot TEXT NOT NULL,
		commute_days INTEGER,
		commute_miles REAL,
		annual_mileage REAL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, position)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new session at the initial step.
func (s *SQLiteStore) CreateSession(ctx context.Context, clientID string) (*domain.Session, error) {
	now := s.now()
	session := &domain.Session{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		CurrentStep: initialStep,
		StartedAt:   now,
	}

	query := `
		INSERT INTO sessions (id, client_id, current_step, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	err := s.write(ctx, "create session", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			session.ID, nullString(clientID), session.CurrentStep,
			now.UnixMilli(), now.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT id, client_id, zip_code, full_name, email, license_type,
		       license_status, current_step, is_complete, started_at, completed_at
		FROM sessions WHERE id = ?`

	var session domain.Session
	var clientID sql.NullString
	var startedAt int64
	var completedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID, &clientID, &session.ZipCode, &session.FullName, &session.Email,
		&session.LicenseType, &session.LicenseStatus, &session.CurrentStep,
		&session.IsComplete, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.ClientID = clientID.String
	session.StartedAt = time.UnixMilli(startedAt)
	if completedAt.Valid {
		ts := time.UnixMilli(completedAt.Int64)
		session.CompletedAt = &ts
	}
	return &session, nil
}

// AppendMessage adds one transcript entry.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("append message: invalid role %q", role)
	}

	query := `INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`

	return s.write(ctx, "append message", func(tx *sql.Tx) error {
		if err := sessionExists(ctx, tx, sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query, sessionID, string(role), content, s.now().UnixMilli())
		return err
	})
}

// UpsertVehicle stores a completed vehicle, replacing any record at the same
// position. The original created_at is kept.
func (s *SQLiteStore) UpsertVehicle(ctx context.Context, vehicle *domain.Vehicle) error {
	if err := vehicle.Validate(); err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}

	query := `
		INSERT INTO vehicles (
			session_id, position, vin, use_type, blind_spot,
			commute_days, commute_miles, annual_mileage, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, position) DO UPDATE SET
			vin = excluded.vin,
			use_type = excluded.use_type,
			blind_spot = excluded.blind_spot,
			commute_days = excluded.commute_days,
			commute_miles = excluded.commute_miles,
			annual_mileage = excluded.annual_mileage`

	createdAt := vehicle.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var commuteDays interface{}
	if vehicle.CommuteDays != nil {
		commuteDays = *vehicle.CommuteDays
	}
	var commuteMiles interface{}
	if vehicle.CommuteMiles != nil {
		commuteMiles = *vehicle.CommuteMiles
	}
	var annualMileage interface{}
	if vehicle.AnnualMileage != nil {
		annualMileage = *vehicle.AnnualMileage
	}

	return s.write(ctx, "upsert vehicle", func(tx *sql.Tx) error {
		if err := sessionExists(ctx, tx, vehicle.SessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query,
			vehicle.SessionID, vehicle.Position, vehicle.VIN,
			string(vehicle.UseType), vehicle.BlindSpot,
			commuteDays, commuteMiles, annualMileage,
			createdAt.UnixMilli(),
		)
		return err
	})
}

// SyncSession overwrites the mutable fields of a session.
func (s *SQLiteStore) SyncSession(ctx context.Context, session *domain.Session) error {
	query := `
		UPDATE sessions SET
			zip_code = ?, full_name = ?, email = ?,
			license_type = ?, license_status = ?, current_step = ?,
			is_complete = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`

	var completedAt interface{}
	if session.CompletedAt != nil {
		completedAt = session.CompletedAt.UnixMilli()
	}

	return s.write(ctx, "sync session", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			session.ZipCode, session.FullName, session.Email,
			session.LicenseType, session.LicenseStatus, session.CurrentStep,
			session.IsComplete, completedAt, s.now().UnixMilli(),
			session.ID,
		)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// ListMessages returns the transcript in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `SELECT session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.SessionID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.Timestamp = time.UnixMilli(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ListVehicles returns the vehicles of a session ordered by position.
func (s *SQLiteStore) ListVehicles(ctx context.Context, sessionID string) ([]domain.Vehicle, error) {
	query := `
		SELECT session_id, position, vin, use_type, blind_spot,
		       commute_days, commute_miles, annual_mileage, created_at
		FROM vehicles WHERE session_id = ? ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close vehicle rows", "error", closeErr)
		}
	}()

	var vehicles []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		var useType string
		var commuteDays sql.NullInt64
		var commuteMiles, annualMileage sql.NullFloat64
		var createdAt int64

		if err := rows.Scan(
			&v.SessionID, &v.Position, &v.VIN, &useType, &v.BlindSpot,
			&commuteDays, &commuteMiles, &annualMileage, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan vehicle row: %w", err)
		}

		v.UseType = domain.UseType(useType)
		v.CreatedAt = time.UnixMilli(createdAt)
		if commuteDays.Valid {
			days := int(commuteDays.Int64)
			v.CommuteDays = &days
		}
		if commuteMiles.Valid {
			v.CommuteMiles = &commuteMiles.Float64
		}
		if annualMileage.Valid {
			v.AnnualMileage = &annualMileage.Float64
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vehicles: %w", err)
	}
	return vehicles, nil
}

// write runs fn in a transaction under the write mutex. Conflicts are retried
// with exponential backoff: 100ms, 200ms.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var err error
	for i := 0; i < maxWriteRetries; i++ {
		err = s.writeOnce(ctx, fn)
		if err == nil || !shared.IsSQLiteConflictError(err) || i == maxWriteRetries-1 {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			slog.Warn("SQLite constraint violation", "op", op, "error", err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *SQLiteStore) writeOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func sessionExists(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ Repository = (*SQLiteStore)(nil)
