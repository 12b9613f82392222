package api

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"mockview/internal/database"
	"mockview/internal/resume"
)

// ResumeHandler 接收外部解析流程产出的简历，面试只读取这些记录。
type ResumeHandler struct {
	db         *gorm.DB
	maxResumes int
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(db *gorm.DB, maxResumes int) *ResumeHandler {
	return &ResumeHandler{db: db, maxResumes: maxResumes}
}

type importResumeRequest struct {
	Title   string         `json:"title" binding:"required,max=255"`
	Content datatypes.JSON `json:"content" binding:"required"`
	RawText string         `json:"rawText"`
}

type resumeListItem struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ImportResume 保存一份已经抽取好的简历。
func (h *ResumeHandler) ImportResume(c *gin.Context) {
	var req importResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	content, err := resume.Parse(req.Content)
	if err != nil {
		BadRequest(c, "content is not a valid resume document")
		return
	}
	if strings.TrimSpace(req.RawText) == "" && len(content.Items) == 0 && content.Name == "" {
		BadRequest(c, "resume is empty")
		return
	}

	ctx := c.Request.Context()
	if h.maxResumes > 0 {
		var count int64
		if err := h.db.WithContext(ctx).
			Model(&database.Resume{}).
			Where("user_id = ?", userID).
			Count(&count).Error; err != nil {
			Internal(c, "failed to count resumes")
			return
		}
		if count >= int64(h.maxResumes) {
			Conflict(c, "resume limit reached")
			return
		}
	}

	record := database.Resume{
		Title:   strings.TrimSpace(req.Title),
		Content: datatypes.JSON(bytes.TrimSpace(req.Content)),
		RawText: req.RawText,
		UserID:  userID,
	}
	if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
		Internal(c, "failed to create resume")
		return
	}

	c.JSON(http.StatusCreated, resumeListItem{
		ID:        record.ID,
		Title:     record.Title,
		Name:      content.Name,
		CreatedAt: record.CreatedAt,
	})
}

// ListResumes 列出用户全部简历，按创建时间倒序。
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var records []database.Resume
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]resumeListItem, 0, len(records))
	for _, r := range records {
		item := resumeListItem{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt}
		if content, err := resume.Parse(r.Content); err == nil {
			item.Name = content.Name
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
