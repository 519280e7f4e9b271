package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"printflow/internal/models"
	"printflow/internal/repositories"
)

// ContactHandler lets users choose where reminder notices reach them.
type ContactHandler struct {
	users repositories.UserRepository
}

func NewContactHandler(users repositories.UserRepository) *ContactHandler {
	return &ContactHandler{users: users}
}

type contactRequest struct {
	Email          string `json:"email" example:"press@example.com"`
	TelegramChatID int64  `json:"telegram_chat_id"`
	NotifyTelegram bool   `json:"notify_telegram"`
}

// Get godoc
// @Summary  Notification addresses of the caller
// @Tags     me
// @Produce  json
// @Success  200 {object} models.Contact
// @Security BearerAuth
// @Router   /me/contact [get]
func (h *ContactHandler) Get(c *gin.Context) {
	userID := getActor(c).UserID
	contact, err := h.users.GetContact(c.Request.Context(), userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		c.JSON(http.StatusOK, models.Contact{UserID: userID})
		return
	}
	if err != nil {
		respondError(c, "contact.get", err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

// Update godoc
// @Summary  Update notification addresses of the caller
// @Tags     me
// @Accept   json
// @Produce  json
// @Param    body body contactRequest true "Addresses"
// @Success  200 {object} models.Contact
// @Failure  400 {object} map[string]string
// @Security BearerAuth
// @Router   /me/contact [put]
func (h *ContactHandler) Update(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(req.Email)
	if email != "" && !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email", "field": "email"})
		return
	}
	if req.NotifyTelegram && req.TelegramChatID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "telegram_chat_id is required to enable telegram", "field": "telegram_chat_id"})
		return
	}

	contact := &models.Contact{
		UserID:         getActor(c).UserID,
		Email:          email,
		TelegramChatID: req.TelegramChatID,
		NotifyTelegram: req.NotifyTelegram,
	}
	if err := h.users.SaveContact(c.Request.Context(), contact); err != nil {
		respondError(c, "contact.update", err)
		return
	}
	zlog.Info().Str("op", "contact.update").Int64("user_id", contact.UserID).Bool("telegram", contact.NotifyTelegram).Msg("ok")
	c.JSON(http.StatusOK, contact)
}
