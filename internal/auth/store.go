package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Store holds tokens by key. Save replaces the whole value; readers never
// observe a partially written token.
type Store interface {
	Load(ctx context.Context, key string) (Token, bool, error)
	Save(ctx context.Context, key string, tok Token) error
	Delete(ctx context.Context, key string) error
}

type MemoryStore struct {
	cache *expirable.LRU[string, Token]
}

func NewMemoryStore(size int, maxTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: expirable.NewLRU[string, Token](size, nil, maxTTL),
	}
}

func (s *MemoryStore) Load(_ context.Context, key string) (Token, bool, error) {
	tok, ok := s.cache.Get(key)
	return tok, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, tok Token) error {
	s.cache.Add(key, tok)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NewRedisClient connects and pings before returning.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Load(ctx context.Context, key string) (Token, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, false, err
	}
	return tok, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, tok Token) error {
	ttl := tok.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
