package interview

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"

	"mockview/internal/database"
	"mockview/internal/errcode"
)

// AllowedShareHours 是分享链接可选的有效期（小时）。
var AllowedShareHours = []int{24, 72, 168, 720}

// 分享状态。
const (
	ShareNone    = "none"
	ShareActive  = "active"
	ShareExpired = "expired"
	ShareRevoked = "revoked"
)

const (
	shareNonceBytes = 32
	shareTokenV1    = "v1"
)

// ShareLink 是签发后的分享链接。
type ShareLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ShareState 是分享状态查询结果，只有 active 时才带 URL。
type ShareState struct {
	Status    string     `json:"status"`
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// PublicReport 是公开访问时返回的脱敏报告，不包含作答原文、提示与归属信息。
type PublicReport struct {
	InterviewID  uint             `json:"interviewId"`
	Level        string           `json:"level"`
	Type         string           `json:"type"`
	Language     string           `json:"language"`
	OverallScore int              `json:"overallScore"`
	CompletedAt  time.Time        `json:"completedAt"`
	Report       *Report          `json:"report"`
	Questions    []ReportQuestion `json:"questions"`
}

// ShareService 签发、撤销与校验报告分享链接。
// token = nonce + "." + base64url(HMAC-SHA256(secret, "v1:<id>:<nonce>"))，token 本身不落库。
type ShareService struct {
	store   *Store
	secret  []byte
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewShareService 构造 ShareService。
func NewShareService(store *Store, secret, publicBaseURL string, logger *slog.Logger) *ShareService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShareService{
		store:   store,
		secret:  []byte(secret),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// Issue 签发新的分享链接，覆盖旧的 nonce 并清除撤销标记。
func (s *ShareService) Issue(ctx context.Context, userID, interviewID uint, hours int) (*ShareLink, error) {
	if !slices.Contains(AllowedShareHours, hours) {
		return nil, errcode.Validation(fmt.Sprintf("expiresInHours must be one of %v", AllowedShareHours))
	}
	iv, err := s.store.GetOwnedInterview(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	if len(iv.ReportJSON) == 0 {
		return nil, errcode.InvalidState("report has not been compiled yet")
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(time.Duration(hours) * time.Hour).UTC()
	if err := s.store.UpsertShare(ctx, interviewID, nonce, expiresAt); err != nil {
		return nil, err
	}

	s.logger.Info("share link issued",
		slog.Uint64("interview_id", uint64(interviewID)),
		slog.Time("expires_at", expiresAt),
	)
	return &ShareLink{URL: s.url(interviewID, nonce), ExpiresAt: expiresAt}, nil
}

// Revoke 撤销分享，记录保留以区分"已撤销"与"从未分享"。
func (s *ShareService) Revoke(ctx context.Context, userID, interviewID uint) error {
	if _, err := s.store.GetOwnedInterview(ctx, userID, interviewID); err != nil {
		return err
	}
	if _, err := s.store.GetShare(ctx, interviewID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errcode.NotFound("interview has not been shared")
		}
		return fmt.Errorf("query share record: %w", err)
	}
	if err := s.store.RevokeShare(ctx, interviewID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("share link revoked", slog.Uint64("interview_id", uint64(interviewID)))
	return nil
}

// Status 返回分享状态，active 时按存储的 nonce 重新计算链接。
func (s *ShareService) Status(ctx context.Context, userID, interviewID uint) (*ShareState, error) {
	if _, err := s.store.GetOwnedInterview(ctx, userID, interviewID); err != nil {
		return nil, err
	}
	rec, err := s.store.GetShare(ctx, interviewID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ShareState{Status: ShareNone}, nil
		}
		return nil, fmt.Errorf("query share record: %w", err)
	}

	expiresAt := rec.ExpiresAt.UTC()
	switch {
	case rec.RevokedAt != nil:
		revokedAt := rec.RevokedAt.UTC()
		return &ShareState{Status: ShareRevoked, ExpiresAt: &expiresAt, RevokedAt: &revokedAt}, nil
	case !expiresAt.After(s.now()):
		return &ShareState{Status: ShareExpired, ExpiresAt: &expiresAt}, nil
	default:
		return &ShareState{Status: ShareActive, URL: s.url(interviewID, rec.Nonce), ExpiresAt: &expiresAt}, nil
	}
}

// Verify 校验 token：无记录、已撤销或已过期都返回 false，否则做常量时间比较。
func (s *ShareService) Verify(ctx context.Context, interviewID uint, nonce, token string) (bool, error) {
	rec, err := s.store.GetShare(ctx, interviewID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("query share record: %w", err)
	}
	if rec.RevokedAt != nil || !rec.ExpiresAt.After(s.now()) {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(nonce), []byte(rec.Nonce)) != 1 {
		return false, nil
	}
	expected := s.token(interviewID, rec.Nonce)
	return hmac.Equal([]byte(expected), []byte(token)), nil
}

// VerifyToken 从 token 中拆出 nonce 后校验。
func (s *ShareService) VerifyToken(ctx context.Context, interviewID uint, token string) (bool, error) {
	nonce, _, ok := strings.Cut(token, ".")
	if !ok || nonce == "" {
		return false, nil
	}
	return s.Verify(ctx, interviewID, nonce, token)
}

// PublicReport 校验 token 后返回脱敏报告；任何校验失败都视为未授权。
func (s *ShareService) PublicReport(ctx context.Context, interviewID uint, token string) (*PublicReport, error) {
	ok, err := s.VerifyToken(ctx, interviewID, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errcode.Unauthorized("invalid or expired share link")
	}

	iv, err := s.store.GetInterview(ctx, interviewID)
	if err != nil {
		if errcode.Is(err, errcode.KindNotFound) {
			return nil, errcode.Unauthorized("invalid or expired share link")
		}
		return nil, err
	}
	if iv.Status != database.InterviewStatusCompleted || len(iv.ReportJSON) == 0 {
		return nil, errcode.Unauthorized("invalid or expired share link")
	}

	outcome, err := StoredOutcome(iv)
	if err != nil {
		return nil, err
	}
	report := *outcome.Report
	questions := report.Questions
	report.Questions = nil

	return &PublicReport{
		InterviewID:  iv.ID,
		Level:        iv.Level,
		Type:         iv.Type,
		Language:     iv.Language,
		OverallScore: outcome.OverallScore,
		CompletedAt:  outcome.CompletedAt,
		Report:       &report,
		Questions:    questions,
	}, nil
}

func (s *ShareService) token(interviewID uint, nonce string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d:%s", shareTokenV1, interviewID, nonce)
	return nonce + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *ShareService) url(interviewID uint, nonce string) string {
	q := url.Values{}
	q.Set("token", s.token(interviewID, nonce))
	return fmt.Sprintf("%s/share/%d?%s", s.baseURL, interviewID, q.Encode())
}

func newNonce() (string, error) {
	buf := make([]byte, shareNonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
