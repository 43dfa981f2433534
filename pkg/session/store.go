package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ErrSessionNotFound is returned for sessions that never existed or were evicted.
var ErrSessionNotFound = errors.New("session not found")

// Session is a live, addressable container of workflow state.
type Session struct {
	ID        string    `json:"id"`
	AppName   string    `json:"app_name"`
	UserID    string    `json:"user_id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps live sessions keyed by (app, user, session id).
type Store interface {
	Get(ctx context.Context, app, userID, sessionID string) (*Session, error)
	Create(ctx context.Context, app, userID, sessionID string, state State) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, app, userID, sessionID string) error
}

// RedisStore keeps sessions as JSON values that expire after ttl of inactivity.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "session"
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(app, userID, sessionID string) string {
	if userID == "" {
		userID = "-"
	}
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, app, userID, sessionID)
}

func (s *RedisStore) Get(ctx context.Context, app, userID, sessionID string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.key(app, userID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		log.Errorf("Error loading session '%s': %v", sessionID, err)
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess := &Session{}
	if err := json.Unmarshal(raw, sess); err != nil {
		log.Errorf("Corrupt session payload for '%s': %v", sessionID, err)
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Create stores a new session. It fails if the id is already taken.
func (s *RedisStore) Create(ctx context.Context, app, userID, sessionID string, state State) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{ID: sessionID, AppName: app, UserID: userID, State: state, CreatedAt: now, UpdatedAt: now}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(app, userID, sessionID), raw, s.ttl).Result()
	if err != nil {
		log.Errorf("Error creating session '%s': %v", sessionID, err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("create session: id %q already in use", sessionID)
	}
	log.Debugf("Session %s created for user '%s'", sessionID, userID)
	return sess, nil
}

// Save writes the session back and refreshes its ttl.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.AppName, sess.UserID, sess.ID), raw, s.ttl).Err(); err != nil {
		log.Errorf("Error saving session '%s': %v", sess.ID, err)
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, app, userID, sessionID string) error {
	if err := s.client.Del(ctx, s.key(app, userID, sessionID)).Err(); err != nil {
		log.Errorf("Error deleting session '%s': %v", sessionID, err)
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
