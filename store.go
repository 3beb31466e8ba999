package preheat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateVersion = 1

// ZoneState is everything a zone persists between restarts.
type ZoneState struct {
	Version         int                  `json:"version"`
	Sessions        []HeatingSession     `json:"sessions"`
	LastOffTime     time.Time            `json:"last_off_time,omitzero"`
	LastAdvice      *Advice              `json:"last_advice,omitempty"`
	FeedbackHistory []AnticipationResult `json:"feedback_history"`
}

// Store persists per-zone state. A missing zone is not an error; Load returns
// an empty state for it.
type Store interface {
	Load(ctx context.Context, zone string) (ZoneState, error)
	Save(ctx context.Context, zone string, state ZoneState) error
	Close() error
}

// FileStore keeps one JSON file per zone in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(zone string) string {
	return filepath.Join(s.dir, "preheat_"+zone+".json")
}

func (s *FileStore) Load(_ context.Context, zone string) (ZoneState, error) {
	data, err := os.ReadFile(s.path(zone))
	if errors.Is(err, fs.ErrNotExist) {
		return ZoneState{Version: stateVersion}, nil
	}

	if err != nil {
		return ZoneState{}, err
	}

	var state ZoneState

	if err := json.Unmarshal(data, &state); err != nil {
		return ZoneState{}, fmt.Errorf("decoding state for %s: %w", zone, err)
	}

	return state, nil
}

// Save writes via a temp file so a crash mid-write cannot truncate the state.
func (s *FileStore) Save(_ context.Context, zone string, state ZoneState) error {
	state.Version = stateVersion

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path(zone) + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, s.path(zone))
}

func (s *FileStore) Close() error { return nil }

// RedisStore keeps zone state in Redis so multiple instances can share it.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "preheat:zone:"}, nil
}

func (s *RedisStore) Load(ctx context.Context, zone string) (ZoneState, error) {
	data, err := s.client.Get(ctx, s.prefix+zone).Bytes()
	if errors.Is(err, redis.Nil) {
		return ZoneState{Version: stateVersion}, nil
	}

	if err != nil {
		return ZoneState{}, err
	}

	var state ZoneState

	if err := json.Unmarshal(data, &state); err != nil {
		return ZoneState{}, fmt.Errorf("decoding state for %s: %w", zone, err)
	}

	return state, nil
}

func (s *RedisStore) Save(ctx context.Context, zone string, state ZoneState) error {
	state.Version = stateVersion

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.prefix+zone, data, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
