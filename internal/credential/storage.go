package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fixed keys under which every backend keeps the pair.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Pair is the access/refresh credential pair.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether both credentials are present.
func (p Pair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Storage is durable key-value storage for the pair. Backends write both
// keys in one operation. A missing pair loads as the zero Pair without error.
type Storage interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, p Pair) error
	Clear(ctx context.Context) error
	Close() error
}

// =============================================================================
// In-memory storage
// =============================================================================

// MemoryStorage keeps the pair for the lifetime of the process.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string, 2)}
}

func (s *MemoryStorage) Load(_ context.Context) (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Pair{AccessToken: s.values[AccessTokenKey], RefreshToken: s.values[RefreshTokenKey]}, nil
}

func (s *MemoryStorage) Save(_ context.Context, p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[AccessTokenKey] = p.AccessToken
	s.values[RefreshTokenKey] = p.RefreshToken
	return nil
}

func (s *MemoryStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, AccessTokenKey)
	delete(s.values, RefreshTokenKey)
	return nil
}

func (s *MemoryStorage) Close() error { return nil }

// =============================================================================
// File storage
// =============================================================================

// FileStorage keeps the pair as a JSON object in a 0600 file. Writes go
// through a temp file and rename so a reader never sees one key without the other.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

// NewFileStorage creates a file storage rooted at path. The parent
// directory is created on first save.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the file location.
func (s *FileStorage) Path() string { return s.path }

func (s *FileStorage) Load(_ context.Context) (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Pair{}, nil
	}
	if err != nil {
		return Pair{}, fmt.Errorf("reading credentials file: %w", err)
	}

	var p Pair
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pair{}, fmt.Errorf("decoding credentials file: %w", err)
	}
	return p, nil
}

func (s *FileStorage) Save(_ context.Context, p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating temp credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("securing credentials file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credentials file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}

func (s *FileStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

func (s *FileStorage) Close() error { return nil }

// =============================================================================
// Redis storage
// =============================================================================

// RedisStorage keeps the pair in two Redis string keys, written in one MULTI/EXEC.
type RedisStorage struct {
	client    *redis.Client
	keyPrefix string
	ownClient bool
}

// RedisStorageConfig holds configuration for the Redis backend.
type RedisStorageConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, cfg RedisStorageConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis for credential storage: %w", err)
	}

	s := NewRedisStorageWithClient(client, cfg.KeyPrefix)
	s.ownClient = true
	return s, nil
}

// NewRedisStorageWithClient wraps an existing client. Close leaves the client open.
func NewRedisStorageWithClient(client *redis.Client, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = "adminctl:credentials:"
	}
	return &RedisStorage{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStorage) key(name string) string {
	return s.keyPrefix + name
}

func (s *RedisStorage) Load(ctx context.Context) (Pair, error) {
	vals, err := s.client.MGet(ctx, s.key(AccessTokenKey), s.key(RefreshTokenKey)).Result()
	if err != nil {
		return Pair{}, fmt.Errorf("loading credentials from redis: %w", err)
	}
	// MGET reports missing keys as nil entries, never as redis.Nil
	var p Pair
	if v, ok := vals[0].(string); ok {
		p.AccessToken = v
	}
	if v, ok := vals[1].(string); ok {
		p.RefreshToken = v
	}
	return p, nil
}

func (s *RedisStorage) Save(ctx context.Context, p Pair) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(AccessTokenKey), p.AccessToken, 0)
	pipe.Set(ctx, s.key(RefreshTokenKey), p.RefreshToken, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving credentials to redis: %w", err)
	}
	return nil
}

func (s *RedisStorage) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key(AccessTokenKey), s.key(RefreshTokenKey)).Err(); err != nil {
		return fmt.Errorf("clearing credentials in redis: %w", err)
	}
	return nil
}

func (s *RedisStorage) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

// Ensure implementations satisfy the interface
var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*FileStorage)(nil)
	_ Storage = (*RedisStorage)(nil)
)
