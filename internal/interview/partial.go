package interview

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// partialFields 从尚未输出完整的 JSON 对象中提取顶层字符串字段。
// 未闭合的字符串按当前已收到的内容返回。
func partialFields(text string) map[string]string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil
	}
	p := &partialScanner{s: text, i: start + 1}
	out := make(map[string]string)
	for {
		p.skipSpace()
		if p.eof() || p.peek() == '}' {
			return out
		}
		if p.peek() == ',' {
			p.i++
			continue
		}
		if p.peek() != '"' {
			return out
		}
		key, complete := p.readString()
		if !complete {
			return out
		}
		p.skipSpace()
		if p.eof() || p.peek() != ':' {
			return out
		}
		p.i++
		p.skipSpace()
		if p.eof() {
			return out
		}
		if p.peek() == '"' {
			value, complete := p.readString()
			out[key] = value
			if !complete {
				return out
			}
			continue
		}
		if !p.skipValue() {
			return out
		}
	}
}

type partialScanner struct {
	s string
	i int
}

func (p *partialScanner) eof() bool  { return p.i >= len(p.s) }
func (p *partialScanner) peek() byte { return p.s[p.i] }

func (p *partialScanner) skipSpace() {
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', '\n', '\r':
			p.i++
		default:
			return
		}
	}
}

// readString 读取以引号开头的字符串，complete 表示是否遇到了结束引号。
func (p *partialScanner) readString() (value string, complete bool) {
	p.i++ // opening quote
	start := p.i
	for p.i < len(p.s) {
		switch p.s[p.i] {
		case '\\':
			p.i += 2
		case '"':
			raw := p.s[start:p.i]
			p.i++
			return decodeJSONString(raw), true
		default:
			p.i++
		}
	}
	raw := p.s[start:min(p.i, len(p.s))]
	return decodeJSONString(raw), false
}

// skipValue 跳过非字符串值，停在下一个顶层分隔符上。
func (p *partialScanner) skipValue() bool {
	depth := 0
	for !p.eof() {
		switch c := p.peek(); c {
		case '"':
			if _, complete := p.readString(); !complete {
				return false
			}
			continue
		case '{', '[':
			depth++
		case '}', ']':
			if depth == 0 {
				return true
			}
			depth--
		case ',':
			if depth == 0 {
				return true
			}
		}
		p.i++
	}
	return false
}

// decodeJSONString 反转义字符串内容，末尾残缺的转义序列会被丢弃。
func decodeJSONString(raw string) string {
	for cut := 0; cut <= 6 && cut <= len(raw); cut++ {
		var out string
		if err := json.Unmarshal([]byte(`"`+raw[:len(raw)-cut]+`"`), &out); err == nil {
			return out
		}
	}
	return ""
}

// extractObject 截取模型输出中第一个 '{' 到最后一个 '}'，容忍 ```json 代码块包裹。
func extractObject(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, errors.New("no json object in model output")
	}
	return []byte(text[start : end+1]), nil
}

// decodeStrict 严格解码：拒绝未知字段与尾随内容。
func decodeStrict(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after json object")
	}
	return nil
}
