package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-relay/internal/chat"
)

func TestLatestKey(t *testing.T) {
	id := chat.ConversationID{
		UserID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ChatID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
	}
	require.Equal(t,
		"chat:latest:11111111-1111-1111-1111-111111111111:22222222-2222-2222-2222-222222222222",
		latestKey(id))
}

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestStore_SetAndGetLatest(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	s := New(addr, "", 0, time.Minute)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	id := chat.ConversationID{UserID: uuid.New(), ChatID: uuid.New()}
	_, err := s.GetLatest(ctx, id)
	require.ErrorIs(t, err, redis.Nil)

	rec := chat.Record{UserID: id.UserID, ChatID: id.ChatID, TurnID: "01A", Prompt: "Hi", Response: "Hello"}
	require.NoError(t, s.Write(ctx, rec))

	got, err := s.GetLatest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Hello", got.Response)
	require.Equal(t, id, got.ConversationID())
}
