package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ashureev/intake-chat/internal/domain"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

const maxWatchRetries = 5

// RedisStore implements Repository on Redis. A session is a hash, its
// transcript a list of JSON messages and its vehicles a hash keyed by
// position.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL expires every key of a session ttl after its last write.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedis connects to the server at address.
func NewRedis(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisFromClient(client, opts...)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "intake:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) sessionKey(id string) string  { return s.prefix + "session:" + id }
func (s *RedisStore) messagesKey(id string) string { return s.prefix + "session:" + id + ":messages" }
func (s *RedisStore) vehiclesKey(id string) string { return s.prefix + "session:" + id + ":vehicles" }

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CreateSession stores a new session hash.
func (s *RedisStore) CreateSession(ctx context.Context, clientID string) (*domain.Session, error) {
	now := s.now()
	session := &domain.Session{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		CurrentStep: initialStep,
		StartedAt:   now,
	}

	key := s.sessionKey(session.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, key, sessionFields(session))
		s.expire(ctx, pipe, session.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession loads a session hash.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return parseSessionFields(fields)
}

// AppendMessage pushes one JSON message onto the session transcript.
func (s *RedisStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("append message: invalid role %q", role)
	}
	data, err := sonic.Marshal(domain.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = s.update(ctx, sessionID, func(pipe backend.Pipeliner) {
		pipe.RPush(ctx, s.messagesKey(sessionID), data)
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// UpsertVehicle stores a vehicle under its position, replacing any record
// already there.
func (s *RedisStore) UpsertVehicle(ctx context.Context, vehicle *domain.Vehicle) error {
	if err := vehicle.Validate(); err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}
	record := *vehicle
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	data, err := sonic.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal vehicle: %w", err)
	}

	err = s.update(ctx, vehicle.SessionID, func(pipe backend.Pipeliner) {
		pipe.HSet(ctx, s.vehiclesKey(vehicle.SessionID), strconv.Itoa(vehicle.Position), data)
	})
	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}
	return nil
}

// SyncSession overwrites the mutable fields of an existing session.
func (s *RedisStore) SyncSession(ctx context.Context, session *domain.Session) error {
	key := s.sessionKey(session.ID)
	err := s.update(ctx, session.ID, func(pipe backend.Pipeliner) {
		pipe.HSet(ctx, key,
			"zip_code", session.ZipCode,
			"full_name", session.FullName,
			"email", session.Email,
			"license_type", session.LicenseType,
			"license_status", session.LicenseStatus,
			"current_step", session.CurrentStep,
			"is_complete", strconv.FormatBool(session.IsComplete),
		)
		if session.CompletedAt != nil {
			pipe.HSet(ctx, key, "completed_at", strconv.FormatInt(session.CompletedAt.UnixMilli(), 10))
		} else {
			pipe.HDel(ctx, key, "completed_at")
		}
	})
	if err != nil {
		return fmt.Errorf("sync session: %w", err)
	}
	return nil
}

// ListMessages returns the transcript in append order.
func (s *RedisStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	raw, err := s.client.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var msg domain.Message
		if err := sonic.UnmarshalString(item, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ListVehicles returns the vehicles ordered by position.
func (s *RedisStore) ListVehicles(ctx context.Context, sessionID string) ([]domain.Vehicle, error) {
	raw, err := s.client.HGetAll(ctx, s.vehiclesKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}

	vehicles := make([]domain.Vehicle, 0, len(raw))
	for _, item := range raw {
		var v domain.Vehicle
		if err := sonic.UnmarshalString(item, &v); err != nil {
			return nil, fmt.Errorf("unmarshal vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	sort.Slice(vehicles, func(i, j int) bool {
		return vehicles[i].Position < vehicles[j].Position
	})
	return vehicles, nil
}

// update runs write in one MULTI/EXEC with the session hash under WATCH. A
// session that expires or is deleted before EXEC aborts the transaction and
// the retry returns ErrSessionNotFound.
func (s *RedisStore) update(ctx context.Context, sessionID string, write func(pipe backend.Pipeliner)) error {
	key := s.sessionKey(sessionID)
	txf := func(tx *backend.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrSessionNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			write(pipe)
			s.expire(ctx, pipe, sessionID)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, backend.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *RedisStore) expire(ctx context.Context, pipe backend.Pipeliner, sessionID string) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.sessionKey(sessionID), s.ttl)
	pipe.Expire(ctx, s.messagesKey(sessionID), s.ttl)
	pipe.Expire(ctx, s.vehiclesKey(sessionID), s.ttl)
}

func sessionFields(session *domain.Session) map[string]interface{} {
	return map[string]interface{}{
		"id":             session.ID,
		"client_id":      session.ClientID,
		"zip_code":       session.ZipCode,
		"full_name":      session.FullName,
		"email":          session.Email,
		"license_type":   session.LicenseType,
		"license_status": session.LicenseStatus,
		"current_step":   session.CurrentStep,
		"is_complete":    strconv.FormatBool(session.IsComplete),
		"started_at":     strconv.FormatInt(session.StartedAt.UnixMilli(), 10),
	}
}

func parseSessionFields(fields map[string]string) (*domain.Session, error) {
	session := &domain.Session{
		ID:            fields["id"],
		ClientID:      fields["client_id"],
		ZipCode:       fields["zip_code"],
		FullName:      fields["full_name"],
		Email:         fields["email"],
		LicenseType:   fields["license_type"],
		LicenseStatus: fields["license_status"],
		CurrentStep:   fields["current_step"],
		IsComplete:    fields["is_complete"] == "true",
	}

	startedAt, err := strconv.ParseInt(fields["started_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	session.StartedAt = time.UnixMilli(startedAt)

	if raw, ok := fields["completed_at"]; ok {
		completedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		ts := time.UnixMilli(completedAt)
		session.CompletedAt = &ts
	}
	return session, nil
}

var _ Repository = (*RedisStore)(nil)
