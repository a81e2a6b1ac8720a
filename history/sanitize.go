package history

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	flowrun "flowrun"
)

const (
	// MaxStringLength is the longest string kept verbatim in history, in runes.
	MaxStringLength = 1000
	// TruncationSuffix marks a string cut at MaxStringLength.
	TruncationSuffix = "... [truncated]"
	// SanitizedKey marks an object reduced to its allow-listed fields.
	SanitizedKey = "_sanitized"
)

// characterMarkers identify an object shaped like a character card.
var characterMarkers = []string{"first_mes", "personality", "scenario", "mes_example"}

// characterFields survive sanitization of a character-shaped object.
var characterFields = []string{"name", "avatar", "description", "tags", "create_date"}

// Sanitize returns a copy of v that is safe to persist: long strings are
// truncated and character-shaped objects are reduced to an allow-listed
// subset. v is not modified. Values outside the JSON model are normalised
// through encoding/json first.
func Sanitize(v any) any {
	switch t := v.(type) {
	case nil, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return t
	case string:
		return truncate(t)
	case map[string]any:
		return sanitizeObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Sanitize(item)
		}
		return out
	}
	return Sanitize(normalize(v))
}

func sanitizeObject(obj map[string]any) map[string]any {
	if isCharacter(obj) {
		out := map[string]any{SanitizedKey: true}
		for _, field := range characterFields {
			if val, ok := obj[field]; ok {
				out[field] = Sanitize(val)
			}
		}
		return out
	}
	out := make(map[string]any, len(obj))
	for k, val := range obj {
		out[k] = Sanitize(val)
	}
	return out
}

func isCharacter(obj map[string]any) bool {
	if _, ok := obj["name"].(string); !ok {
		return false
	}
	for _, marker := range characterMarkers {
		if _, ok := obj[marker]; ok {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxStringLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxStringLength]) + TruncationSuffix
}

// normalize converts an arbitrary Go value into the JSON value model.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}

// SanitizeReport applies Sanitize to every value carried by r.
func SanitizeReport(r flowrun.ExecutionReport) flowrun.ExecutionReport {
	out := flowrun.ExecutionReport{
		RunID:         r.RunID,
		ExecutedNodes: make([]flowrun.NodeReport, len(r.ExecutedNodes)),
		LastOutput:    Sanitize(r.LastOutput),
		Status:        r.Status,
	}
	for i, n := range r.ExecutedNodes {
		entry := flowrun.NodeReport{NodeID: n.NodeID, Type: n.Type, Output: Sanitize(n.Output)}
		if n.Input != nil {
			entry.Input, _ = Sanitize(n.Input).(map[string]any)
		}
		out.ExecutedNodes[i] = entry
	}
	if r.Error != nil {
		e := *r.Error
		e.Message = truncate(e.Message)
		out.Error = &e
	}
	return out
}
