package dispatch

import (
	"errors"
	"strings"
)

// extractActionJSON pulls the action object out of a model reply. Models
// are prompted for bare JSON but routinely wrap it in a markdown fence or
// surrounding prose; the first balanced top-level object wins.
func extractActionJSON(text string) ([]byte, error) {
	if fenced := insideFence(text); fenced != "" {
		text = fenced
	}
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, errors.New("reply contains no JSON object")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(text[start : i+1]), nil
			}
		}
	}
	return nil, errors.New("reply contains an unterminated JSON object")
}

// insideFence returns the body of the first markdown code fence with any
// leading language label removed, or "" when the reply is not fenced.
func insideFence(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return ""
	}
	rest := text[open+3:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	body := strings.TrimSpace(rest[:end])
	if strings.HasPrefix(strings.ToLower(body), "json") {
		body = body[4:]
	}
	return strings.TrimSpace(body)
}
