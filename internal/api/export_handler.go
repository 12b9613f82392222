package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mockview/internal/api/middleware"
	"mockview/internal/database"
	"mockview/internal/errcode"
	"mockview/internal/interview"
	"mockview/internal/tasks"
)

// Presigner 生成对象存储的限时下载链接。
type Presigner interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	PresignedDownloadURL(ctx context.Context, objectKey, filename string, duration time.Duration) (string, error)
}

// ExportHandler 负责报告 PDF 导出任务的提交与下载链接。
type ExportHandler struct {
	store    *interview.Store
	enqueuer tasks.Enqueuer
	storage  Presigner
	linkTTL  time.Duration
}

// NewExportHandler 构造 ExportHandler。
func NewExportHandler(store *interview.Store, enqueuer tasks.Enqueuer, storage Presigner, linkTTL time.Duration) *ExportHandler {
	if linkTTL <= 0 {
		linkTTL = 5 * time.Minute
	}
	return &ExportHandler{store: store, enqueuer: enqueuer, storage: storage, linkTTL: linkTTL}
}

// ExportReport 将 PDF 导出任务入队并立即返回 202，完成后通过 WebSocket 通知。
func (h *ExportHandler) ExportReport(c *gin.Context) {
	iv, ok := h.completedInterview(c)
	if !ok {
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewReportExportTask(tasks.ReportExportPayload{
		UserID:        iv.UserID,
		InterviewID:   iv.ID,
		CorrelationID: correlationID,
	})
	if err != nil {
		Internal(c, "failed to create task")
		return
	}

	info, err := h.enqueuer.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		middleware.LoggerFromContext(c).Error("enqueue report export failed", slog.Any("error", err))
		Internal(c, "failed to enqueue report export")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "report export request accepted",
		"task_id": info.ID,
	})
}

// DownloadLink 返回最近一次导出的预签名下载链接，尚未导出或对象已被清理时返回 409。
func (h *ExportHandler) DownloadLink(c *gin.Context) {
	iv, ok := h.completedInterview(c)
	if !ok {
		return
	}
	if iv.ReportPDFKey == "" {
		Conflict(c, "report has not been exported yet")
		return
	}

	ctx := c.Request.Context()
	exists, err := h.storage.ObjectExists(ctx, iv.ReportPDFKey)
	if err != nil {
		middleware.LoggerFromContext(c).Error("stat exported report failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}
	if !exists {
		Conflict(c, "exported report is no longer available, export again")
		return
	}

	filename := fmt.Sprintf("interview-report-%d.pdf", iv.ID)
	signedURL, err := h.storage.PresignedDownloadURL(ctx, iv.ReportPDFKey, filename, h.linkTTL)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate download link failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":       signedURL,
		"expiresAt": time.Now().Add(h.linkTTL).UTC(),
	})
}

func (h *ExportHandler) completedInterview(c *gin.Context) (*database.Interview, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return nil, false
	}
	iv, err := h.store.GetOwnedInterview(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if iv.Status != database.InterviewStatusCompleted {
		respondError(c, errcode.InvalidState("interview is not completed"))
		return nil, false
	}
	return iv, true
}
