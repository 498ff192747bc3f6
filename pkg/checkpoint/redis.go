package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/logsift/logsift/pkg/errors"
)

// RedisConfig configures the redis checkpoint backend.
type RedisConfig struct {
	// Addr is the redis server address, e.g. "localhost:6379".
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key.
	Prefix string

	// TTL expires abandoned states. Zero keeps them forever.
	TTL time.Duration

	// Timeout bounds each redis operation.
	Timeout time.Duration

	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns the defaults for the given address.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:         addr,
		Prefix:       "logsift:checkpoint:",
		TTL:          24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores states in redis for low-latency shared access.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects and pings the server.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "connect to redis").
			WithContext("addr", cfg.Addr)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, st *State) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "marshal state")
	}
	if err := b.client.Set(ctx, b.key(st.ID), data, b.cfg.TTL).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "save state to redis").
			WithContext("id", st.ID)
	}
	return nil
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, id string) (*State, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "load state from redis").
			WithContext("id", id)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "decode state").
			WithContext("id", id)
	}
	return &st, nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "delete state from redis").
			WithContext("id", id)
	}
	return nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error { return b.client.Close() }

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis" }

// Ping checks the connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// Lock is a held instance lock. Release it when the run ends.
type Lock struct {
	backend *RedisBackend
	key     string
	token   string
}

// AcquireLock takes the instance lock for a checkpoint id via SetNX, so
// two engines cannot interleave saves under the same id. Returns a
// CodeCheckpoint error when another holder exists.
func (b *RedisBackend) AcquireLock(ctx context.Context, id string, ttl time.Duration) (*Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	key := b.cfg.Prefix + "lock:" + id
	token := uuid.NewString()
	ok, err := b.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "acquire instance lock").
			WithContext("id", id)
	}
	if !ok {
		holder, _ := b.client.Get(ctx, key).Result()
		return nil, errors.New(errors.CodeCheckpoint, "checkpoint id is locked by another instance").
			WithContext("id", id).
			WithContext("holder", holder)
	}
	return &Lock{backend: b, key: key, token: token}, nil
}

// Refresh extends the lock TTL. Returns a CodeCheckpoint error when the
// lock expired and someone else took it, so the holder can stop saving.
func (l *Lock) Refresh(ctx context.Context, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, l.backend.cfg.Timeout)
	defer cancel()

	current, err := l.backend.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return errors.New(errors.CodeCheckpoint, "instance lock expired").
			WithContext("key", l.key)
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "read instance lock")
	}
	if current != l.token {
		return errors.New(errors.CodeCheckpoint, "instance lock taken by another holder").
			WithContext("key", l.key)
	}
	return l.backend.client.Expire(ctx, l.key, ttl).Err()
}

// Release frees the lock if this instance still holds it.
func (l *Lock) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.backend.cfg.Timeout)
	defer cancel()

	// Only delete our own token; an expired lock may have a new owner.
	current, err := l.backend.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "read instance lock")
	}
	if current != l.token {
		return nil
	}
	return l.backend.client.Del(ctx, l.key).Err()
}
