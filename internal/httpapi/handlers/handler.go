package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/persist"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
)

const DefaultHeartbeat = 15 * time.Second

// Handler serves the relay over HTTP. Repo and Cache are optional read
// paths; nil disables them.
type Handler struct {
	Relay *chat.Relay
	Store chat.ConversationStore
	Queue *persist.Queue
	Repo  *chat.Repo
	Cache *redisstore.Store

	Heartbeat time.Duration
}

func (h *Handler) heartbeat() time.Duration {
	if h.Heartbeat <= 0 {
		return DefaultHeartbeat
	}
	return h.Heartbeat
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) Healthz(c *gin.Context) {
	common.OK(c, gin.H{
		"conversations": h.Store.Len(),
		"queue":         h.Queue.Stats(),
	})
}

func conversationFromPath(c *gin.Context) (chat.ConversationID, bool) {
	id, err := chat.ParseConversationID(c.Param("user_id"), c.Param("chat_id"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, err.Error())
		return chat.ConversationID{}, false
	}
	return id, true
}
