package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"printflow/internal/authz"
	"printflow/internal/services"
)

// более устойчиво к типам (int / int64 / float64 / string)
func getInt64FromCtx(c *gin.Context, key string) (int64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func getActor(c *gin.Context) authz.Actor {
	var a authz.Actor
	if id, ok := getInt64FromCtx(c, "user_id"); ok {
		a.UserID = id
	}
	if id, ok := getInt64FromCtx(c, "role_id"); ok {
		a.RoleID = int(id)
	}
	return a
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, op string, err error) {
	var (
		ve services.ValidationError
		ae services.AuthorizationError
		ne services.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &ae):
		zlog.Info().Str("op", op).Err(err).Msg("denied")
		c.JSON(http.StatusForbidden, gin.H{"error": ae.Error()})
	case errors.As(err, &ne):
		c.JSON(http.StatusNotFound, gin.H{"error": ne.Error()})
	default:
		if ce, ok := services.AsConflictError(err); ok {
			body := gin.H{"error": ce.Error()}
			if ce.Current != nil {
				body["reminder"] = ce.Current
			}
			c.JSON(http.StatusConflict, body)
			return
		}
		zlog.Error().Str("op", op).Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
