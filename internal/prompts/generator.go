package prompts

import (
	"fmt"
	"strings"

	"mockview/internal/llm"
)

// Session 描述本场面试的配置。
type Session struct {
	Level         string
	Type          string
	Language      string
	Persona       string
	QuestionCount int
}

// QA 是一组已作答的问答，用于保持上下文连贯。
type QA struct {
	Index    int
	Topic    string
	Question string
	Answer   string
}

// QuestionInput 是出题所需的上下文。
type QuestionInput struct {
	Session       Session
	ResumeJSON    string
	ResumeText    string
	NextIndex     int
	RecentAnswers []QA
}

// QuestionMessages 构造出题请求。模型必须只输出一个 JSON 对象。
func QuestionMessages(in QuestionInput) []llm.Message {
	var sys strings.Builder
	sys.WriteString("You are an experienced interviewer running a realistic mock interview.\n")
	fmt.Fprintf(&sys, "Persona: %s. Interview type: %s. Candidate level: %s.\n", orDefault(in.Session.Persona, "neutral"), in.Session.Type, in.Session.Level)
	fmt.Fprintf(&sys, "Write everything in language %q.\n", orDefault(in.Session.Language, "en"))
	sys.WriteString("Ask exactly ONE question grounded in the candidate's resume.\n")
	sys.WriteString(`Respond with a single JSON object and nothing else: {"questionType": string, "topic": string, "question": string, "tip": string}. `)
	sys.WriteString(`Emit the keys in the order question, topic, tip, questionType.`)

	var user strings.Builder
	fmt.Fprintf(&user, "This is question %d of %d.\n\n", in.NextIndex, in.Session.QuestionCount)
	if in.ResumeJSON != "" {
		user.WriteString("STRUCTURED RESUME:\n")
		user.WriteString(in.ResumeJSON)
		user.WriteString("\n\n")
	}
	if in.ResumeText != "" {
		user.WriteString("RESUME TEXT:\n")
		user.WriteString(in.ResumeText)
		user.WriteString("\n\n")
	}
	if len(in.RecentAnswers) > 0 {
		user.WriteString("PREVIOUS QUESTIONS AND ANSWERS (most recent last):\n")
		for _, qa := range in.RecentAnswers {
			fmt.Fprintf(&user, "Q%d [%s]: %s\nA: %s\n", qa.Index, qa.Topic, qa.Question, orDefault(qa.Answer, "(skipped)"))
		}
		user.WriteString("\nDo not repeat a topic that was already covered.\n")
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// ScoreInput 是单题评分的上下文。
type ScoreInput struct {
	Session       Session
	ResumeSummary string
	QuestionType  string
	Topic         string
	Question      string
	Answer        string
}

// ScoreMessages 构造单题评分请求。
func ScoreMessages(in ScoreInput) []llm.Message {
	var sys strings.Builder
	sys.WriteString("You are a strict but fair interview coach. Score the candidate's answer.\n")
	fmt.Fprintf(&sys, "Candidate level: %s. Write feedback in language %q.\n", in.Session.Level, orDefault(in.Session.Language, "en"))
	sys.WriteString("Every score is an integer from 0 to 10.\n")
	sys.WriteString(`Respond with a single JSON object: {"scores": {"understanding": int, "expression": int, "logic": int, "depth": int, "authenticity": int, "reflection": int}, "overall": int, `)
	sys.WriteString(`"strengths": [string], "improvements": [string], "advice": string, "deepDive": {"coreConcepts": [string], "pitfalls": [string], "modelAnswer": string}}`)

	var user strings.Builder
	if in.ResumeSummary != "" {
		fmt.Fprintf(&user, "RESUME SUMMARY:\n%s\n\n", in.ResumeSummary)
	}
	fmt.Fprintf(&user, "QUESTION (%s, %s):\n%s\n\nANSWER:\n%s\n", in.QuestionType, in.Topic, in.Question, in.Answer)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// ReportItem 是报告中的单题记录。Scores 为空表示该题没有评分。
type ReportItem struct {
	Index    int
	Topic    string
	Question string
	Answer   string
	Overall  *int
	Scores   map[string]int
}

// ReportInput 是汇总报告的上下文。
type ReportInput struct {
	Session       Session
	ResumeSummary string
	Items         []ReportItem
}

// ReportMessages 构造最终报告请求。
func ReportMessages(in ReportInput) []llm.Message {
	var sys strings.Builder
	sys.WriteString("You compile the final evaluation of a mock interview.\n")
	fmt.Fprintf(&sys, "Write in language %q.\n", orDefault(in.Session.Language, "en"))
	sys.WriteString("Questions without scores were skipped or could not be evaluated; do not invent scores for them.\n")
	sys.WriteString(`Respond with a single JSON object: {"overallScore": int 0-100, "dimensions": {"understanding": int, "expression": int, "logic": int, "depth": int, "authenticity": int, "reflection": int} (each 0-10), `)
	sys.WriteString(`"topStrengths": [string], "criticalFocus": [string], "summary": string, "nextSteps": [string]}`)

	var user strings.Builder
	if in.ResumeSummary != "" {
		fmt.Fprintf(&user, "RESUME SUMMARY:\n%s\n\n", in.ResumeSummary)
	}
	user.WriteString("TRANSCRIPT:\n")
	for _, item := range in.Items {
		fmt.Fprintf(&user, "Q%d [%s]: %s\nA: %s\n", item.Index, item.Topic, item.Question, orDefault(item.Answer, "(skipped)"))
		if item.Overall != nil {
			fmt.Fprintf(&user, "Score: overall=%d understanding=%d expression=%d logic=%d depth=%d authenticity=%d reflection=%d\n",
				*item.Overall,
				item.Scores["understanding"],
				item.Scores["expression"],
				item.Scores["logic"],
				item.Scores["depth"],
				item.Scores["authenticity"],
				item.Scores["reflection"],
			)
		} else {
			user.WriteString("Score: none\n")
		}
		user.WriteString("\n")
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// Truncate 按 rune 截断文本，避免把超长简历整段塞进上下文。
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
