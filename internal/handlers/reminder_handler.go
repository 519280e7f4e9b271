package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"printflow/internal/models"
	"printflow/internal/services"
)

// StatusEventSink accepts project status changes for the stage watcher.
type StatusEventSink interface {
	Enqueue(ctx context.Context, ev models.StatusChange)
}

type ReminderHandler struct {
	service services.ReminderService
	events  StatusEventSink
}

func NewReminderHandler(service services.ReminderService, events StatusEventSink) *ReminderHandler {
	return &ReminderHandler{service: service, events: events}
}

type createReminderRequest struct {
	Title        string             `json:"title" example:"Confirm paper stock"`
	Message      string             `json:"message"`
	TriggerMode  models.TriggerMode `json:"trigger_mode" example:"stage_based"`
	RemindAt     string             `json:"remind_at" example:"2024-07-01T09:30:00+02:00"`
	WatchStatus  string             `json:"watch_status" example:"Pending Production"`
	DelayMinutes int                `json:"delay_minutes" example:"60"`
	Repeat       models.Repeat      `json:"repeat" example:"none"`
	Recipients   []int64            `json:"recipients"`
	Channels     *models.Channels   `json:"channels"`
	Timezone     string             `json:"timezone" example:"Europe/Berlin"`
}

func (r createReminderRequest) config() models.ReminderConfig {
	channels := models.Channels{InApp: true}
	if r.Channels != nil {
		channels = *r.Channels
	}
	return models.ReminderConfig{
		Title:        r.Title,
		Message:      r.Message,
		TriggerMode:  r.TriggerMode,
		RemindAt:     r.RemindAt,
		WatchStatus:  r.WatchStatus,
		DelayMinutes: r.DelayMinutes,
		Repeat:       r.Repeat,
		Recipients:   r.Recipients,
		Channels:     channels,
		Timezone:     r.Timezone,
	}
}

type snoozeRequest struct {
	Minutes int `json:"minutes" binding:"required" example:"60"`
}

type statusEventRequest struct {
	Status     string `json:"status" binding:"required" example:"Pending Production"`
	OccurredAt string `json:"occurred_at" example:"2024-07-01T09:30:00Z"`
}

// Create godoc
// @Summary  Create a project reminder
// @Tags     reminders
// @Accept   json
// @Produce  json
// @Param    id   path int                   true "Project ID"
// @Param    body body createReminderRequest true "Reminder configuration"
// @Success  201 {object} models.Reminder
// @Failure  400 {object} map[string]string
// @Failure  404 {object} map[string]string
// @Security BearerAuth
// @Router   /projects/{id}/reminders [post]
func (h *ReminderHandler) Create(c *gin.Context) {
	actor := getActor(c)
	projectID, ok := projectParam(c)
	if !ok {
		return
	}

	var req createReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Debug().Str("op", "reminder.create").Err(err).Msg("bind")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.service.Create(c.Request.Context(), projectID, actor, req.config())
	if err != nil {
		respondError(c, "reminder.create", err)
		return
	}
	zlog.Info().Str("op", "reminder.create").Int64("user_id", actor.UserID).Str("reminder_id", r.ID).Msg("ok")
	c.JSON(http.StatusCreated, r)
}

// List godoc
// @Summary  List reminders of a project
// @Tags     reminders
// @Produce  json
// @Param    id                path  int  true  "Project ID"
// @Param    include_completed query bool false "Include completed and cancelled reminders"
// @Success  200 {array} models.Reminder
// @Security BearerAuth
// @Router   /projects/{id}/reminders [get]
func (h *ReminderHandler) List(c *gin.Context) {
	projectID, ok := projectParam(c)
	if !ok {
		return
	}
	include, _ := strconv.ParseBool(c.DefaultQuery("include_completed", "false"))

	list, err := h.service.List(c.Request.Context(), projectID, include)
	if err != nil {
		respondError(c, "reminder.list", err)
		return
	}
	if list == nil {
		list = []models.Reminder{}
	}
	c.JSON(http.StatusOK, list)
}

// StatusChanged godoc
// @Summary  Report a project status change
// @Description Fire-and-forget: matching stage reminders are armed asynchronously.
// @Tags     projects
// @Accept   json
// @Param    id   path int                true "Project ID"
// @Param    body body statusEventRequest true "New status"
// @Success  202
// @Security BearerAuth
// @Router   /projects/{id}/status-events [post]
func (h *ReminderHandler) StatusChanged(c *gin.Context) {
	projectID, ok := projectParam(c)
	if !ok {
		return
	}
	var req statusEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	occurred := time.Now()
	if s := strings.TrimSpace(req.OccurredAt); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid occurred_at (RFC3339)", "field": "occurred_at"})
			return
		}
		occurred = t
	}

	h.events.Enqueue(c.Request.Context(), models.StatusChange{ProjectID: projectID, NewStatus: req.Status, OccurredAt: occurred})
	zlog.Debug().Str("op", "project.status").Int64("project_id", projectID).Str("status", req.Status).Msg("queued")
	c.Status(http.StatusAccepted)
}

// Due godoc
// @Summary  Reminders currently due for the caller
// @Tags     reminders
// @Produce  json
// @Success  200 {array} models.Reminder
// @Security BearerAuth
// @Router   /reminders/due [get]
func (h *ReminderHandler) Due(c *gin.Context) {
	list, err := h.service.ListDue(c.Request.Context(), getActor(c))
	if err != nil {
		respondError(c, "reminder.due", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Get godoc
// @Summary  Get a reminder
// @Tags     reminders
// @Produce  json
// @Param    id path string true "Reminder ID"
// @Success  200 {object} models.Reminder
// @Failure  403 {object} map[string]string
// @Failure  404 {object} map[string]string
// @Security BearerAuth
// @Router   /reminders/{id} [get]
func (h *ReminderHandler) Get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"), getActor(c))
	if err != nil {
		respondError(c, "reminder.get", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Snooze godoc
// @Summary  Snooze a due reminder
// @Tags     reminders
// @Accept   json
// @Produce  json
// @Param    id   path string        true "Reminder ID"
// @Param    body body snoozeRequest true "Minutes to postpone"
// @Success  200 {object} models.Reminder
// @Failure  409 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /reminders/{id}/snooze [post]
func (h *ReminderHandler) Snooze(c *gin.Context) {
	var req snoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes is required", "field": "minutes"})
		return
	}
	h.act(c, "reminder.snooze", func(ctx context.Context, id string) (*models.Reminder, error) {
		return h.service.Snooze(ctx, id, getActor(c), req.Minutes)
	})
}

// Complete godoc
// @Summary  Complete a reminder (re-arms repeating reminders)
// @Tags     reminders
// @Produce  json
// @Param    id path string true "Reminder ID"
// @Success  200 {object} models.Reminder
// @Failure  409 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /reminders/{id}/complete [post]
func (h *ReminderHandler) Complete(c *gin.Context) {
	h.act(c, "reminder.complete", func(ctx context.Context, id string) (*models.Reminder, error) {
		return h.service.Complete(ctx, id, getActor(c))
	})
}

// Cancel godoc
// @Summary  Cancel a reminder
// @Tags     reminders
// @Produce  json
// @Param    id path string true "Reminder ID"
// @Success  200 {object} models.Reminder
// @Failure  403 {object} map[string]string
// @Failure  409 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /reminders/{id}/cancel [post]
func (h *ReminderHandler) Cancel(c *gin.Context) {
	h.act(c, "reminder.cancel", func(ctx context.Context, id string) (*models.Reminder, error) {
		return h.service.Cancel(ctx, id, getActor(c))
	})
}

// Pause godoc
// @Summary  Pause a reminder
// @Tags     reminders
// @Produce  json
// @Param    id path string true "Reminder ID"
// @Success  200 {object} models.Reminder
// @Security BearerAuth
// @Router   /reminders/{id}/pause [post]
func (h *ReminderHandler) Pause(c *gin.Context) {
	h.act(c, "reminder.pause", func(ctx context.Context, id string) (*models.Reminder, error) {
		return h.service.SetActive(ctx, id, getActor(c), false)
	})
}

// Resume godoc
// @Summary  Resume a paused reminder
// @Tags     reminders
// @Produce  json
// @Param    id path string true "Reminder ID"
// @Success  200 {object} models.Reminder
// @Security BearerAuth
// @Router   /reminders/{id}/resume [post]
func (h *ReminderHandler) Resume(c *gin.Context) {
	h.act(c, "reminder.resume", func(ctx context.Context, id string) (*models.Reminder, error) {
		return h.service.SetActive(ctx, id, getActor(c), true)
	})
}

func (h *ReminderHandler) act(c *gin.Context, op string, fn func(ctx context.Context, id string) (*models.Reminder, error)) {
	id := c.Param("id")
	r, err := fn(c.Request.Context(), id)
	if err != nil {
		respondError(c, op, err)
		return
	}
	zlog.Info().Str("op", op).Int64("user_id", getActor(c).UserID).Str("reminder_id", id).
		Str("status", string(r.Status)).Msg("ok")
	c.JSON(http.StatusOK, r)
}

func projectParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, false
	}
	return id, true
}
