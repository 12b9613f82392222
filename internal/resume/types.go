package resume

import (
	"encoding/json"
	"strings"
)

// Content 表示存储在简历 Content(JSONB) 中的结构化数据。
// 简历解析流程在外部完成，这里只约定读取所需的最小结构。
type Content struct {
	Name     string `json:"name"`
	Headline string `json:"headline"`
	Items    []Item `json:"items"`
}

// Item 表示简历中的一个段落，例如一段工作经历或技能列表。
type Item struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// 常见的段落类型。未知类型按普通文本处理。
const (
	ItemTypeExperience = "experience"
	ItemTypeProject    = "project"
	ItemTypeSkills     = "skills"
	ItemTypeEducation  = "education"
	ItemTypeText       = "text"
)

// Parse 解析结构化简历；空内容返回零值。
func Parse(data []byte) (Content, error) {
	var c Content
	if len(data) == 0 || string(data) == "null" {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}, err
	}
	return c, nil
}

// Summary 把结构化简历压缩成纯文本，结构化内容缺失时回退到原文。
// limit 按 rune 计算，<=0 表示不截断。
func Summary(c Content, rawText string, limit int) string {
	var b strings.Builder
	if c.Name != "" {
		b.WriteString(c.Name)
		if c.Headline != "" {
			b.WriteString(" - ")
			b.WriteString(c.Headline)
		}
		b.WriteString("\n")
	}
	for _, item := range c.Items {
		text := strings.TrimSpace(item.Content)
		if text == "" {
			continue
		}
		if item.Title != "" {
			b.WriteString("[")
			b.WriteString(item.Title)
			b.WriteString("] ")
		}
		b.WriteString(strings.Join(strings.Fields(text), " "))
		b.WriteString("\n")
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		out = strings.TrimSpace(rawText)
	}
	if limit > 0 {
		if runes := []rune(out); len(runes) > limit {
			out = string(runes[:limit])
		}
	}
	return out
}
