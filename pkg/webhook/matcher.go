package webhook

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// MatchPattern reports whether event matches pattern. Patterns are an exact
// event name, "*" for everything, or "prefix.*" which matches any event starting
// with "prefix." but not "prefix" itself.
func MatchPattern(pattern, event string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		prefix := strings.TrimSuffix(pattern, "*")
		return len(event) > len(prefix) && strings.HasPrefix(event, prefix)
	default:
		return pattern == event
	}
}

// MatchFilters reports whether every filter holds against payload. Each key must
// exist in the payload; dotted keys walk nested objects. A scalar filter value
// requires equality, an array filter value requires the payload value to be one
// of its members.
func MatchFilters(filters map[string]any, payload map[string]any) bool {
	for key, want := range filters {
		got, ok := lookup(payload, key)
		if !ok {
			return false
		}
		if options, isList := asList(want); isList {
			if !containsValue(options, got) {
				return false
			}
			continue
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// Matches reports whether the subscription should receive event with payload at now.
// The owning endpoint's active flag is checked by the caller.
func (s *Subscription) Matches(event string, payload map[string]any, now time.Time) bool {
	if !s.Eligible(now) || !MatchPattern(s.EventPattern, event) {
		return false
	}
	return len(s.Filters) == 0 || MatchFilters(s.Filters, payload)
}

// Eligible checks the active flag, expiry and delivery cap.
func (s *Subscription) Eligible(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return false
	}
	return s.MaxDeliveries <= 0 || s.DeliveryCount < s.MaxDeliveries
}

func lookup(payload map[string]any, key string) (any, bool) {
	if v, ok := payload[key]; ok {
		return v, true
	}
	var cur any = payload
	for part := range strings.SplitSeq(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func containsValue(options []any, v any) bool {
	for _, o := range options {
		if valuesEqual(o, v) {
			return true
		}
	}
	return false
}

// valuesEqual compares JSON-decoded values, treating numbers by value.
func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// payloadMap normalizes an arbitrary payload to a JSON object for filter matching.
// Non-object payloads yield an empty map.
func payloadMap(raw json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		var v any
		if json.Unmarshal(raw, &v) == nil {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
