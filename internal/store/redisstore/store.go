package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/chat-relay/internal/chat"
)

const DefaultTTL = 24 * time.Hour

// Store caches each conversation's latest record with a TTL. Lookups that
// miss return redis.Nil.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), ttl)
}

func NewWithClient(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func latestKey(id chat.ConversationID) string {
	return fmt.Sprintf("chat:latest:%s:%s", id.UserID, id.ChatID)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) SetLatest(ctx context.Context, rec chat.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return errors.Wrap(s.rdb.Set(ctx, latestKey(rec.ConversationID()), b, s.ttl).Err(), "redis: set latest")
}

func (s *Store) GetLatest(ctx context.Context, id chat.ConversationID) (*chat.Record, error) {
	b, err := s.rdb.Get(ctx, latestKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var rec chat.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(err, "redis: decode latest")
	}
	return &rec, nil
}

// Write implements persist.Sink.
func (s *Store) Write(ctx context.Context, rec chat.Record) error {
	return s.SetLatest(ctx, rec)
}

func (s *Store) Close() error {
	if c, ok := s.rdb.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
