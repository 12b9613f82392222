package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mockview/internal/api/middleware"
	"mockview/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg, "code": kindForStatus(status).String()})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errcode.KindUnauthorized.String()})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

func kindForStatus(status int) errcode.Kind {
	switch status {
	case http.StatusUnauthorized:
		return errcode.KindUnauthorized
	case http.StatusNotFound:
		return errcode.KindNotFound
	case http.StatusConflict:
		return errcode.KindInvalidState
	case http.StatusBadRequest:
		return errcode.KindValidation
	case http.StatusTooManyRequests:
		return errcode.KindRateLimited
	default:
		return errcode.KindInternal
	}
}

// statusOf 把业务错误分类映射为 HTTP 状态码。
func statusOf(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errcode.KindOf(err) {
	case errcode.KindUnauthorized:
		return http.StatusUnauthorized
	case errcode.KindNotFound:
		return http.StatusNotFound
	case errcode.KindInvalidState:
		return http.StatusConflict
	case errcode.KindValidation:
		return http.StatusBadRequest
	case errcode.KindRateLimited:
		return http.StatusTooManyRequests
	case errcode.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError 输出统一错误体 {"error", "code"}；内部错误只记日志，不向调用方暴露细节。
func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	log := middleware.LoggerFromContext(c)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Info("request rejected", slog.Int("status", status), slog.Any("error", err))
	}

	msg := errcode.MessageOf(err)
	if status == http.StatusGatewayTimeout {
		msg = "request timed out"
	}
	c.JSON(status, gin.H{"error": msg, "code": errcode.KindOf(err).String()})
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	default:
		return 0, false
	}
}

// parseIDParam 解析路径中的正整数 ID。
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
