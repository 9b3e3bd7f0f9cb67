package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func turnRecord(id ConversationID, turnID, prompt, response string) Record {
	now := time.Now()
	return Record{
		UserID:    id.UserID,
		ChatID:    id.ChatID,
		TurnID:    turnID,
		Prompt:    prompt,
		Response:  response,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepo_WriteStoresLatestAndHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := newID()

	require.NoError(t, repo.Write(ctx, turnRecord(id, "01A", "Hi", "Hello")))
	require.NoError(t, repo.Write(ctx, turnRecord(id, "01B", "Again", "Sure")))

	latest, err := repo.GetLatest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "01B", latest.TurnID)
	require.Equal(t, "Again", latest.Prompt)
	require.Equal(t, "Sure", latest.Response)
	require.Equal(t, id, latest.ConversationID())

	turns, err := repo.ListTurns(ctx, id, 10, "")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "01B", turns[0].ID)
	require.Equal(t, "01A", turns[1].ID)
}

func TestRepo_WriteIgnoresOlderAndDuplicateTurns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := newID()

	require.NoError(t, repo.Write(ctx, turnRecord(id, "01C", "newest", "n")))
	// reordered delivery of an older turn
	require.NoError(t, repo.Write(ctx, turnRecord(id, "01B", "older", "o")))
	// redelivery
	require.NoError(t, repo.Write(ctx, turnRecord(id, "01C", "newest", "n")))

	latest, err := repo.GetLatest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "01C", latest.TurnID)

	turns, err := repo.ListTurns(ctx, id, 0, "")
	require.NoError(t, err)
	require.Len(t, turns, 2)
}

func TestRepo_WriteRequiresTurnID(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.Write(context.Background(), turnRecord(newID(), "", "p", "r"))
	require.Error(t, err)
}

func TestRepo_GetLatestNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetLatest(context.Background(), newID())
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepo_ListTurnsPagesBackwards(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := newID()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Write(ctx, turnRecord(id, fmt.Sprintf("01%d", i), fmt.Sprint(i), "r")))
	}
	// another conversation must not leak in
	require.NoError(t, repo.Write(ctx, turnRecord(newID(), "019", "x", "y")))

	page, err := repo.ListTurns(ctx, id, 2, "")
	require.NoError(t, err)
	require.Equal(t, []string{"014", "013"}, []string{page[0].ID, page[1].ID})

	page, err = repo.ListTurns(ctx, id, 2, page[1].ID)
	require.NoError(t, err)
	require.Equal(t, []string{"012", "011"}, []string{page[0].ID, page[1].ID})
}
