package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mockview/internal/database"
	"mockview/internal/errcode"
)

// Store 封装面试相关的全部持久化操作。
type Store struct {
	db *gorm.DB
}

// NewStore 构造 Store。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateInterview 写入新的面试记录。
func (s *Store) CreateInterview(ctx context.Context, iv *database.Interview) error {
	if err := s.db.WithContext(ctx).Create(iv).Error; err != nil {
		return fmt.Errorf("create interview: %w", err)
	}
	return nil
}

// GetOwnedResume 读取属于用户的简历。
func (s *Store) GetOwnedResume(ctx context.Context, userID, resumeID uint) (*database.Resume, error) {
	var resume database.Resume
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", resumeID, userID).
		First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.NotFound("resume not found")
		}
		return nil, fmt.Errorf("query resume: %w", err)
	}
	return &resume, nil
}

// GetResume 按 ID 读取简历，不校验归属。
func (s *Store) GetResume(ctx context.Context, resumeID uint) (*database.Resume, error) {
	var resume database.Resume
	if err := s.db.WithContext(ctx).First(&resume, resumeID).Error; err != nil {
		return nil, err
	}
	return &resume, nil
}

// GetOwnedInterview 读取属于用户的面试；不存在或不属于该用户都视为 NotFound。
func (s *Store) GetOwnedInterview(ctx context.Context, userID, interviewID uint) (*database.Interview, error) {
	var iv database.Interview
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", interviewID, userID).
		First(&iv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.NotFound("interview not found")
		}
		return nil, fmt.Errorf("query interview: %w", err)
	}
	return &iv, nil
}

// GetInterview 按 ID 读取面试，供后台任务与公开分享使用。
func (s *Store) GetInterview(ctx context.Context, interviewID uint) (*database.Interview, error) {
	var iv database.Interview
	if err := s.db.WithContext(ctx).First(&iv, interviewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.NotFound("interview not found")
		}
		return nil, fmt.Errorf("query interview: %w", err)
	}
	return &iv, nil
}

// ListInterviews 列出用户的面试，最近的在前。
func (s *Store) ListInterviews(ctx context.Context, userID uint, limit int) ([]database.Interview, error) {
	var items []database.Interview
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	return items, nil
}

// CurrentQuestion 返回 index 最小的未作答题目。
func (s *Store) CurrentQuestion(ctx context.Context, interviewID uint) (*database.InterviewQuestion, error) {
	var q database.InterviewQuestion
	err := s.db.WithContext(ctx).
		Where("interview_id = ? AND answered_at IS NULL", interviewID).
		Order("question_index ASC").
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// MaxQuestionIndex 返回已有的最大 index，没有题目时为 0。
func (s *Store) MaxQuestionIndex(ctx context.Context, interviewID uint) (int, error) {
	var max int
	// 软删除的题目同样占用 index，唯一索引不区分删除状态。
	row := s.db.WithContext(ctx).
		Unscoped().
		Model(&database.InterviewQuestion{}).
		Where("interview_id = ?", interviewID).
		Select("COALESCE(MAX(question_index), 0)").
		Row()
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("query max question index: %w", err)
	}
	return max, nil
}

// AnsweredCount 统计已作答（包含跳过）的题目数。
func (s *Store) AnsweredCount(ctx context.Context, interviewID uint) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&database.InterviewQuestion{}).
		Where("interview_id = ? AND answered_at IS NOT NULL", interviewID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count answered questions: %w", err)
	}
	return int(count), nil
}

// RecentAnswered 返回最近 n 道已作答题目，按 index 升序。
func (s *Store) RecentAnswered(ctx context.Context, interviewID uint, n int) ([]database.InterviewQuestion, error) {
	var items []database.InterviewQuestion
	if err := s.db.WithContext(ctx).
		Where("interview_id = ? AND answered_at IS NOT NULL", interviewID).
		Order("question_index DESC").
		Limit(n).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("query recent answers: %w", err)
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// ListQuestions 返回面试全部题目，按 index 升序。
func (s *Store) ListQuestions(ctx context.Context, interviewID uint) ([]database.InterviewQuestion, error) {
	var items []database.InterviewQuestion
	if err := s.db.WithContext(ctx).
		Where("interview_id = ?", interviewID).
		Order("question_index ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return items, nil
}

// GetQuestion 按 ID 读取题目。
func (s *Store) GetQuestion(ctx context.Context, questionID uint) (*database.InterviewQuestion, error) {
	var q database.InterviewQuestion
	if err := s.db.WithContext(ctx).First(&q, questionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.NotFound("question not found")
		}
		return nil, fmt.Errorf("query question: %w", err)
	}
	return &q, nil
}

// GetInterviewQuestion 读取属于指定面试的题目。
func (s *Store) GetInterviewQuestion(ctx context.Context, interviewID, questionID uint) (*database.InterviewQuestion, error) {
	q, err := s.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.InterviewID != interviewID {
		return nil, errcode.NotFound("question not found")
	}
	return q, nil
}

// InsertQuestion 写入新题目；(interview_id, question_index) 冲突视为状态错误。
func (s *Store) InsertQuestion(ctx context.Context, q *database.InterviewQuestion) error {
	if err := s.db.WithContext(ctx).Create(q).Error; err != nil {
		if isUniqueViolation(err) {
			return errcode.Wrap(errcode.KindInvalidState, "question slot already taken", err)
		}
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// MarkAnswered 原子地写入作答：仅当 answered_at 仍为空时生效。
func (s *Store) MarkAnswered(ctx context.Context, questionID uint, answer string, at time.Time, scoringStatus string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&database.InterviewQuestion{}).
		Where("id = ? AND answered_at IS NULL", questionID).
		Updates(map[string]any{
			"answer_text":    answer,
			"answered_at":    at,
			"scoring_status": scoringStatus,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark question answered: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SaveScore 在一个事务中写入评分与反馈。评分已存在时不会重复写入。
func (s *Store) SaveScore(ctx context.Context, questionID uint, score database.QuestionScore, feedback Feedback) error {
	data, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	score.QuestionID = questionID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "question_id"}},
			DoNothing: true,
		}).Create(&score).Error; err != nil {
			return fmt.Errorf("insert question score: %w", err)
		}
		if err := tx.Model(&database.InterviewQuestion{}).
			Where("id = ?", questionID).
			Updates(map[string]any{
				"feedback_json":  datatypes.JSON(data),
				"scoring_status": database.ScoringStatusScored,
				"scoring_error":  "",
			}).Error; err != nil {
			return fmt.Errorf("update question feedback: %w", err)
		}
		return nil
	})
}

// maxScoringErrorBytes 与 scoring_error 列宽保持一致。
const maxScoringErrorBytes = 500

// truncateUTF8 按字节上限截断，但不会切开多字节字符。
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// MarkScoringFailed 记录评分失败标记；已评分的题目不受影响。
func (s *Store) MarkScoringFailed(ctx context.Context, questionID uint, reason string) error {
	reason = truncateUTF8(reason, maxScoringErrorBytes)
	if err := s.db.WithContext(ctx).
		Model(&database.InterviewQuestion{}).
		Where("id = ? AND scoring_status = ?", questionID, database.ScoringStatusPending).
		Updates(map[string]any{
			"scoring_status": database.ScoringStatusFailed,
			"scoring_error":  reason,
		}).Error; err != nil {
		return fmt.Errorf("mark scoring failed: %w", err)
	}
	return nil
}

// PendingScoring 返回仍在等待评分落定的题目 ID。
func (s *Store) PendingScoring(ctx context.Context, interviewID uint) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).
		Model(&database.InterviewQuestion{}).
		Where("interview_id = ? AND answered_at IS NOT NULL AND scoring_status = ?", interviewID, database.ScoringStatusPending).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("query pending scoring: %w", err)
	}
	return ids, nil
}

// ScoresFor 返回 questionID -> 评分。
func (s *Store) ScoresFor(ctx context.Context, questionIDs []uint) (map[uint]database.QuestionScore, error) {
	out := make(map[uint]database.QuestionScore, len(questionIDs))
	if len(questionIDs) == 0 {
		return out, nil
	}
	var scores []database.QuestionScore
	if err := s.db.WithContext(ctx).
		Where("question_id IN ?", questionIDs).
		Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("query question scores: %w", err)
	}
	for _, sc := range scores {
		out[sc.QuestionID] = sc
	}
	return out, nil
}

// CountScores 统计某题的评分条数，用于校验一题至多一个评分。
func (s *Store) CountScores(ctx context.Context, questionID uint) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&database.QuestionScore{}).
		Where("question_id = ?", questionID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count question scores: %w", err)
	}
	return int(count), nil
}

// FinalizeInterview 以条件更新完成面试，只有 status=active 时生效。
func (s *Store) FinalizeInterview(ctx context.Context, interviewID uint, report []byte, overall int, degraded bool, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&database.Interview{}).
		Where("id = ? AND status = ?", interviewID, database.InterviewStatusActive).
		Updates(map[string]any{
			"report_json":   datatypes.JSON(report),
			"overall_score": overall,
			"degraded":      degraded,
			"status":        database.InterviewStatusCompleted,
			"completed_at":  at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("finalize interview: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetReportPDFKey 记录导出的 PDF 对象。
func (s *Store) SetReportPDFKey(ctx context.Context, interviewID uint, key string) error {
	if err := s.db.WithContext(ctx).
		Model(&database.Interview{}).
		Where("id = ?", interviewID).
		Update("report_pdf_key", key).Error; err != nil {
		return fmt.Errorf("update report pdf key: %w", err)
	}
	return nil
}

// EligibleInterviews 返回作答数已满但尚未完成的面试。
func (s *Store) EligibleInterviews(ctx context.Context, limit int) ([]database.Interview, error) {
	var items []database.Interview
	if err := s.db.WithContext(ctx).
		Where("status = ?", database.InterviewStatusActive).
		Where("(SELECT COUNT(*) FROM interview_questions q WHERE q.interview_id = interviews.id AND q.answered_at IS NOT NULL AND q.deleted_at IS NULL) >= interviews.question_count").
		Order("id ASC").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("query eligible interviews: %w", err)
	}
	return items, nil
}

// GetShare 读取分享记录。
func (s *Store) GetShare(ctx context.Context, interviewID uint) (*database.ShareRecord, error) {
	var rec database.ShareRecord
	if err := s.db.WithContext(ctx).
		Where("interview_id = ?", interviewID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertShare 写入或覆盖分享记录，并清除撤销标记。
func (s *Store) UpsertShare(ctx context.Context, interviewID uint, nonce string, expiresAt time.Time) error {
	rec := database.ShareRecord{
		InterviewID: interviewID,
		Nonce:       nonce,
		ExpiresAt:   expiresAt,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "interview_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"nonce":      nonce,
			"expires_at": expiresAt,
			"revoked_at": nil,
			"updated_at": time.Now(),
		}),
	}).Create(&rec).Error; err != nil {
		return fmt.Errorf("upsert share record: %w", err)
	}
	return nil
}

// RevokeShare 设置撤销时间，记录保留。
func (s *Store) RevokeShare(ctx context.Context, interviewID uint, at time.Time) error {
	if err := s.db.WithContext(ctx).
		Model(&database.ShareRecord{}).
		Where("interview_id = ? AND revoked_at IS NULL", interviewID).
		Update("revoked_at", at).Error; err != nil {
		return fmt.Errorf("revoke share record: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// 未开启 TranslateError 时，驱动错误只能按文本识别（postgres 23505 / sqlite UNIQUE）。
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "23505") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "unique constraint")
}
