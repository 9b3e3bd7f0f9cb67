package chat

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate() error {
	return errors.Wrap(r.db.AutoMigrate(&Record{}, &Turn{}), "chat repo: migrate")
}

// Write stores rec durably: the turn is appended to history (idempotent on
// TurnID) and the conversation's latest record is replaced unless a newer
// turn is already stored. Redelivered or reordered records are harmless.
func (r *Repo) Write(ctx context.Context, rec Record) error {
	if rec.TurnID == "" {
		return errors.New("chat repo: record has no turn id")
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		turn := TurnFromRecord(rec)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&turn).Error; err != nil {
			return errors.Wrap(err, "insert turn")
		}

		q := tx
		// sqlite serialises writers and has no row locks
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var existing Record
		err := q.Where("user_id = ? AND chat_id = ?", rec.UserID, rec.ChatID).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return errors.Wrap(tx.Create(&rec).Error, "insert record")
		case err != nil:
			return errors.Wrap(err, "load record")
		}

		// ULIDs sort by creation time
		if existing.TurnID >= rec.TurnID {
			return nil
		}
		return errors.Wrap(tx.Model(&Record{}).
			Where("user_id = ? AND chat_id = ?", rec.UserID, rec.ChatID).
			Updates(map[string]any{
				"turn_id":  rec.TurnID,
				"prompt":   rec.Prompt,
				"response": rec.Response,
				"errored":  rec.Errored,
			}).Error, "update record")
	})
	return errors.Wrapf(err, "chat repo: write %s", rec.ConversationID())
}

func (r *Repo) GetLatest(ctx context.Context, id ConversationID) (*Record, error) {
	var rec Record
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", id.UserID, id.ChatID).
		Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListTurns returns turns newest first. beforeID pages backwards.
func (r *Repo) ListTurns(ctx context.Context, id ConversationID, limit int, beforeID string) ([]Turn, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", id.UserID, id.ChatID).
		Order("id DESC").
		Limit(limit)

	if beforeID != "" {
		q = q.Where("id < ?", beforeID)
	}

	var turns []Turn
	if err := q.Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}
