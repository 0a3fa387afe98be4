package record

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// DecodePayload decodes a persisted board-data value: percent-decoding
// first, then JSON. Malformed JSON gets one bounded repair pass before
// the value is declared unrepairable. The repair is lossy by design;
// callers fall back to a default payload.
func DecodePayload(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "%") {
		if decoded, err := url.PathUnescape(s); err == nil {
			s = decoded
		}
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))

	if !looksLikeJSON(s) {
		return nil, fmt.Errorf("%w: not a JSON object or array", ErrUnrepairable)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(s), &payload); err == nil {
		return payload, nil
	}

	repaired := RepairJSON(s)
	if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrepairable, err)
	}
	log.Debug().Msg("recovered malformed persisted board payload")
	return payload, nil
}

// DecodeField decodes a raw field value for presentation. String
// values that look like JSON objects or arrays are decoded (with the
// same repair tolerance as DecodePayload); everything else passes
// through unchanged.
func DecodeField(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	trimmed := strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))
	if !looksLikeJSON(trimmed) {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	if err := json.Unmarshal([]byte(RepairJSON(trimmed)), &v); err == nil {
		return v
	}
	return raw
}

// RepairJSON applies the bounded repair heuristics for recoverable
// malformed JSON: doubled quotes are unescaped and trailing commas
// before a closing bracket are stripped.
func RepairJSON(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, `""`, `"`)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}

func looksLikeJSON(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}
