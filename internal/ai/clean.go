package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// cleanReply strips the wrappers misbehaving endpoints put around the
// JSON body: markdown code fences and a leading "json" language tag.
func cleanReply(content string) string {
	text := strings.TrimSpace(content)
	text = stripCodeFence(text)
	text = stripJSONPrefix(text)
	return strings.TrimSpace(text)
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	inner := text[3:]
	if end := strings.LastIndex(inner, "```"); end != -1 {
		return strings.TrimSpace(inner[:end])
	}
	return text
}

func stripJSONPrefix(text string) string {
	stripped := strings.TrimLeft(text, " \t\n")
	if len(stripped) >= 4 && strings.EqualFold(stripped[:4], "json") {
		return strings.TrimLeft(stripped[4:], " :\n")
	}
	return stripped
}

// extractObject returns the JSON object carried in the cleaned text.
// The contract asks for a bare object; as a salvage step a reply with
// leading prose is scanned for the first decodable object. Anything
// else is ErrSchema.
func extractObject(text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", ErrSchema)
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err == nil {
		if len(raw) > 0 && raw[0] == '{' {
			return text, nil
		}
		return "", fmt.Errorf("%w: reply is not a JSON object", ErrSchema)
	}

	for i, ch := range text {
		if ch != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&raw); err == nil && len(raw) > 0 && raw[0] == '{' {
			return string(raw), nil
		}
	}
	return "", fmt.Errorf("%w: reply is not a JSON object", ErrSchema)
}

// decodeObject parses the object salvaged from the reply into v.
func decodeObject(content string, v any) error {
	obj, err := extractObject(cleanReply(content))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

// refusalPrefixes are canned-refusal openers in the languages the
// pipeline handles. A reply starting with one of these carries no
// usable structure.
var refusalPrefixes = []string{
	"抱歉", "很抱歉", "十分抱歉", "我无法", "我不能", "无法满足", "无法提供",
	"i'm sorry", "i am sorry", "sorry,", "i cannot", "i can't",
	"cannot comply", "not able to",
}

func isRefusal(text string) bool {
	head := strings.ToLower(strings.TrimSpace(text))
	if len(head) > 60 {
		head = head[:60]
	}
	for _, p := range refusalPrefixes {
		if strings.HasPrefix(head, p) {
			return true
		}
	}
	return false
}
