package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// WithRetry calls fn until it succeeds or attempts are exhausted, waiting
// backoff between tries. It stops early when ctx is done.
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i + 1); err == nil {
			return nil
		}
		if i == attempts-1 || backoff <= 0 {
			continue
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// MergeMaps merges multiple maps into one, with later maps overriding earlier ones
func MergeMaps(maps ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// CloneMap returns a shallow copy of m. A nil map yields an empty one.
func CloneMap(m map[string]any) map[string]any {
	return MergeMaps(m)
}

// AsMap reports whether v is a JSON-style object.
func AsMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Stringify renders v as text: strings verbatim, everything else as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
