package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConversationID identifies one dialogue of one user.
type ConversationID struct {
	UserID uuid.UUID
	ChatID uuid.UUID
}

func ParseConversationID(userID, chatID string) (ConversationID, error) {
	u, err := uuid.Parse(userID)
	if err != nil {
		return ConversationID{}, fmt.Errorf("invalid user id: %w", err)
	}
	c, err := uuid.Parse(chatID)
	if err != nil {
		return ConversationID{}, fmt.Errorf("invalid chat id: %w", err)
	}
	id := ConversationID{UserID: u, ChatID: c}
	if id.UserID == uuid.Nil || id.ChatID == uuid.Nil {
		return ConversationID{}, fmt.Errorf("conversation id must not contain nil uuids")
	}
	return id, nil
}

func (id ConversationID) String() string {
	return id.UserID.String() + "/" + id.ChatID.String()
}

// Record is the latest completed turn of a conversation. One row per
// conversation; older turns only live in the sliding window and in Turn rows.
type Record struct {
	UserID   uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"user_id"`
	ChatID   uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"chat_id"`
	TurnID   string    `gorm:"type:varchar(26);not null" json:"turn_id"`
	Prompt   string    `gorm:"type:text;not null" json:"prompt"`
	Response string    `gorm:"type:text;not null" json:"response"`
	// Errored is set when the response ends with an upstream error fragment.
	Errored   bool      `gorm:"not null;default:false" json:"errored"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Record) TableName() string { return "chat_records" }

func (r Record) ConversationID() ConversationID {
	return ConversationID{UserID: r.UserID, ChatID: r.ChatID}
}

// MemoryEntry is the text a completed turn contributes to the sliding window.
func (r Record) MemoryEntry() string {
	return "User: " + r.Prompt + "\nAssistant: " + r.Response
}

// Turn is an append-only history row, keyed by the record's TurnID.
type Turn struct {
	ID        string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:varchar(36);not null;index:idx_chat_turn_conv,priority:1" json:"user_id"`
	ChatID    uuid.UUID `gorm:"type:varchar(36);not null;index:idx_chat_turn_conv,priority:2" json:"chat_id"`
	Prompt    string    `gorm:"type:text;not null" json:"prompt"`
	Response  string    `gorm:"type:text;not null" json:"response"`
	Errored   bool      `gorm:"not null;default:false" json:"errored"`
	CreatedAt time.Time `json:"created_at"`
}

func (Turn) TableName() string { return "chat_turns" }

func TurnFromRecord(r Record) Turn {
	return Turn{
		ID:        r.TurnID,
		UserID:    r.UserID,
		ChatID:    r.ChatID,
		Prompt:    r.Prompt,
		Response:  r.Response,
		Errored:   r.Errored,
		CreatedAt: r.CreatedAt,
	}
}
