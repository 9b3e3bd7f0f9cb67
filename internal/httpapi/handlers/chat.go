package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
	"gorm.io/gorm"
)

// ChatStream relays one prompt as Server-Sent Events. Every fragment is one
// event whose data is the fragment text; an upstream failure arrives as a
// final "error: <message>" event. "ping" events keep idle connections open.
func (h *Handler) ChatStream(c *gin.Context) {
	id, ok := conversationFromPath(c)
	if !ok {
		return
	}
	prompt := c.Query("prompt")
	if strings.TrimSpace(prompt) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "prompt required")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	// cancelling ctx stops the relay and discards the turn
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	frags, done := h.Relay.Stream(ctx, id, prompt)
	abandon := func() {
		cancel()
		for range frags {
		}
		<-done
	}

	ticker := time.NewTicker(h.heartbeat())
	defer ticker.Stop()

	logger := log.With().
		Str("component", "http").
		Str("request_id", middleware.RequestIDFrom(c)).
		Str("user_id", id.UserID.String()).
		Str("chat_id", id.ChatID.String()).
		Logger()

	write := func(event, data string) bool {
		if err := writeEvent(c.Writer, event, data); err != nil {
			logger.Debug().Err(err).Msg("sse write failed")
			return false
		}
		c.Writer.Flush()
		return true
	}

	for {
		select {
		case frag, ok := <-frags:
			if !ok {
				res := <-done
				if res.Record != nil {
					logger.Debug().Str("turn_id", res.Record.TurnID).Bool("errored", res.Record.Errored).Msg("stream finished")
				}
				return
			}
			if !write("", frag) {
				abandon()
				return
			}

		case <-ticker.C:
			if !write("ping", strconv.FormatInt(time.Now().Unix(), 10)) {
				abandon()
				return
			}

		case <-ctx.Done():
			abandon()
			return
		}
	}
}

// GetLatest returns the conversation's latest record from memory, then the
// Redis cache, then the database.
func (h *Handler) GetLatest(c *gin.Context) {
	id, ok := conversationFromPath(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if rec, found := h.Store.Latest(id); found {
		common.OK(c, gin.H{"record": rec, "source": "memory"})
		return
	}

	if h.Cache != nil {
		rec, err := h.Cache.GetLatest(ctx, id)
		switch {
		case err == nil:
			common.OK(c, gin.H{"record": rec, "source": "cache"})
			return
		case !errors.Is(err, redis.Nil):
			log.Warn().Err(err).Str("component", "http").Str("request_id", middleware.RequestIDFrom(c)).Msg("redis lookup failed")
		}
	}

	if h.Repo != nil {
		rec, err := h.Repo.GetLatest(ctx, id)
		switch {
		case err == nil:
			common.OK(c, gin.H{"record": rec, "source": "db"})
			return
		case !errors.Is(err, gorm.ErrRecordNotFound):
			log.Error().Err(err).Str("component", "http").Str("request_id", middleware.RequestIDFrom(c)).Msg("db lookup failed")
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
	}

	common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
}

// ListTurns pages through durable history, newest first.
func (h *Handler) ListTurns(c *gin.Context) {
	id, ok := conversationFromPath(c)
	if !ok {
		return
	}
	if h.Repo == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "history store not configured")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	before := c.Query("before")

	turns, err := h.Repo.ListTurns(c.Request.Context(), id, limit, before)
	if err != nil {
		log.Error().Err(err).Str("component", "http").Str("request_id", middleware.RequestIDFrom(c)).Msg("list turns failed")
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list turns")
		return
	}

	var next string
	if len(turns) > 0 {
		next = turns[len(turns)-1].ID
	}
	common.OK(c, gin.H{
		"turns":       turns,
		"next_before": next,
	})
}
