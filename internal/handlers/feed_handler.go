package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"printflow/internal/realtime"
	"printflow/internal/services"
)

type FeedHandler struct {
	service services.FeedService
	hub     *realtime.FeedHub
}

func NewFeedHandler(service services.FeedService, hub *realtime.FeedHub) *FeedHandler {
	return &FeedHandler{service: service, hub: hub}
}

// List godoc
// @Summary  The caller's in-app reminder feed
// @Tags     feed
// @Produce  json
// @Param    unread query bool false "Only unread items"
// @Param    limit  query int  false "Page size (default 50, max 200)"
// @Success  200 {array} models.FeedItem
// @Security BearerAuth
// @Router   /feed [get]
func (h *FeedHandler) List(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	items, err := h.service.List(c.Request.Context(), getActor(c).UserID, unread, limit)
	if err != nil {
		respondError(c, "feed.list", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// MarkRead godoc
// @Summary  Mark a feed item read
// @Tags     feed
// @Param    id path int true "Feed item ID"
// @Success  204
// @Failure  404 {object} map[string]string
// @Security BearerAuth
// @Router   /feed/{id}/read [post]
func (h *FeedHandler) MarkRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), getActor(c).UserID, id); err != nil {
		respondError(c, "feed.read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Socket godoc
// @Summary  Realtime feed over websocket
// @Tags     feed
// @Param    access_token query string false "JWT when the Authorization header cannot be set"
// @Success  101
// @Security BearerAuth
// @Router   /feed/ws [get]
func (h *FeedHandler) Socket(c *gin.Context) {
	userID := getActor(c).UserID
	if err := h.hub.Serve(c.Writer, c.Request, userID); err != nil {
		// the upgrader already answered the request
		zlog.Debug().Str("op", "feed.ws").Int64("user_id", userID).Err(err).Msg("upgrade failed")
	}
}
