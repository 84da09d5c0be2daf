// Package redis persists session metadata and records lifecycle events for
// downstream analytics. Everything here is off the signaling critical path;
// the state machine never waits on redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/interview-signaling/config"
	"github.com/mossy-p/interview-signaling/internal/models"
)

const (
	sessionTTL = 24 * time.Hour
	opTimeout  = 2 * time.Second
)

type Store struct {
	client *redis.Client
}

// NewStore connects and pings the server.
func NewStore(cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// SaveSession stores session metadata with a TTL.
func (s *Store) SaveSession(meta models.SessionMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.client.Set(ctx, "session:"+meta.ID, data, sessionTTL).Err()
}

// GetSession loads session metadata.
func (s *Store) GetSession(sessionID string) (*models.SessionMetadata, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	data, err := s.client.Get(ctx, "session:"+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	var meta models.SessionMetadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse session metadata: %w", err)
	}
	return &meta, nil
}

// DeleteSession removes session metadata and the event trail.
func (s *Store) DeleteSession(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.client.Del(ctx, "session:"+sessionID, "session:"+sessionID+":events").Err()
}

// SessionStarted records an activation event. Fire-and-forget: failures are
// logged and swallowed so analytics can never disturb signaling.
func (s *Store) SessionStarted(sessionID string) {
	s.appendEvent(sessionID, "started", "")
}

// SessionEnded records a termination event with its reason.
func (s *Store) SessionEnded(sessionID, reason string) {
	s.appendEvent(sessionID, "ended", reason)
}

func (s *Store) appendEvent(sessionID, event, reason string) {
	entry := fmt.Sprintf("%s|%s|%s", time.Now().UTC().Format(time.RFC3339), event, reason)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := "session:" + sessionID + ":events"
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, entry)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Str("event", event).Msg("failed to record session event")
	}
}
