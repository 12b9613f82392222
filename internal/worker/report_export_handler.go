package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"mockview/internal/database"
	"mockview/internal/errcode"
	"mockview/internal/interview"
	"mockview/internal/notify"
	"mockview/internal/tasks"
)

// ReportRenderer 把 HTML 转为 PDF。
type ReportRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// ObjectStore 是导出文件所需的对象存储能力。
type ObjectStore interface {
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, objectKey string) error
}

// ReportExportHandler 消费报告导出任务：渲染 PDF、上传 MinIO 并通知前端。
type ReportExportHandler struct {
	store    *interview.Store
	renderer ReportRenderer
	storage  ObjectStore
	bus      notify.Bus
	logger   *slog.Logger
}

// NewReportExportHandler 创建报告导出处理器。
func NewReportExportHandler(store *interview.Store, renderer ReportRenderer, storage ObjectStore, bus notify.Bus, logger *slog.Logger) *ReportExportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportExportHandler{
		store:    store,
		renderer: renderer,
		storage:  storage,
		bus:      bus,
		logger:   logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ReportExportHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.ReportExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("decode export payload: %v: %w", err, asynq.SkipRetry)
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("interview_id", uint64(payload.InterviewID)),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)
	log.Info("starting report export task")

	iv, err := h.store.GetOwnedInterview(ctx, payload.UserID, payload.InterviewID)
	if err != nil {
		if errcode.Is(err, errcode.KindNotFound) {
			log.Warn("interview not found, skipping task")
			return nil
		}
		log.Error("query interview failed", slog.Any("error", err))
		return err
	}
	if iv.Status != database.InterviewStatusCompleted {
		log.Warn("interview not completed, skipping task", slog.String("status", iv.Status))
		return nil
	}

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		h.publish(context.WithoutCancel(ctx), payload, notify.UserMessage{
			Status:       "error",
			ErrorCode:    errcode.SystemError,
			ErrorMessage: strings.TrimSpace(retErr.Error()),
		})
	}()

	outcome, err := interview.StoredOutcome(iv)
	if err != nil {
		log.Error("decode stored report failed", slog.Any("error", err))
		return err
	}
	html, err := renderReportHTML(iv, outcome)
	if err != nil {
		return err
	}

	pdfBytes, err := h.renderer.RenderPDF(ctx, html)
	if err != nil {
		log.Error("render report pdf failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("report-exports/%d/%d/%s.pdf", iv.UserID, iv.ID, uuid.NewString())
	if err := h.storage.UploadBytes(ctx, objectName, pdfBytes, "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}
	if err := h.store.SetReportPDFKey(ctx, iv.ID, objectName); err != nil {
		log.Error("update interview failed", slog.Any("error", err))
		return err
	}

	if previous := iv.ReportPDFKey; previous != "" && previous != objectName {
		if err := h.storage.DeleteObject(ctx, previous); err != nil {
			log.Warn("delete previous export failed", slog.String("object", previous), slog.Any("error", err))
		}
	}

	h.publish(ctx, payload, notify.UserMessage{Status: "completed", ErrorCode: errcode.OK})
	log.Info("report export task completed", slog.String("object", objectName), slog.Int("bytes", len(pdfBytes)))
	return nil
}

func (h *ReportExportHandler) publish(ctx context.Context, payload tasks.ReportExportPayload, msg notify.UserMessage) {
	msg.Type = notify.TypeReportExport
	msg.InterviewID = payload.InterviewID
	msg.CorrelationID = payload.CorrelationID
	if err := notify.PublishUser(ctx, h.bus, payload.UserID, msg); err != nil {
		h.logger.Error("publish export notification failed", slog.Any("error", err))
	}
}
