package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mockview/internal/errcode"
	"mockview/internal/interview"
)

// ShareHandler 管理报告分享链接与公开访问。
type ShareHandler struct {
	shares *interview.ShareService
}

// NewShareHandler 构造 ShareHandler。
func NewShareHandler(shares *interview.ShareService) *ShareHandler {
	return &ShareHandler{shares: shares}
}

type issueShareRequest struct {
	ExpiresInHours int `json:"expiresInHours" binding:"required"`
}

// IssueShare 签发新的分享链接，旧链接随之失效。
func (h *ShareHandler) IssueShare(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req issueShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	link, err := h.shares.Issue(c.Request.Context(), userID, id, req.ExpiresInHours)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

// RevokeShare 撤销分享。
func (h *ShareHandler) RevokeShare(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.shares.Revoke(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ShareStatus 返回分享状态。
func (h *ShareHandler) ShareStatus(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	state, err := h.shares.Status(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// PublicReport 凭分享 token 返回脱敏报告，无需登录。
func (h *ShareHandler) PublicReport(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		respondError(c, errcode.Unauthorized("share token is required"))
		return
	}

	report, err := h.shares.PublicReport(c.Request.Context(), id, token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, report)
}
