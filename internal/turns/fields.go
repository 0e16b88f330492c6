package turns

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Field extraction helpers.
//
// Engine dialects disagree on field spellings (camelCase vs snake_case) and have
// shifted spellings across protocol versions. Callers pass every historical candidate
// in preference order (camelCase first) instead of repeating fallback chains inline.

func firstString(params map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := params[key]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s
			}
		case []byte:
			if s := strings.TrimSpace(string(x)); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstMap(params map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if m, ok := params[key].(map[string]any); ok && m != nil {
			return m
		}
	}
	return nil
}

func firstInt(params map[string]any, keys ...string) (int64, bool) {
	for _, key := range keys {
		v, ok := params[key]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case float64:
			return int64(x), true
		case int:
			return int64(x), true
		case int64:
			return x, true
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func firstStringSlice(params map[string]any, keys ...string) []string {
	for _, key := range keys {
		raw, ok := params[key].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(raw))
		for _, it := range raw {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// rawFirstString runs gjson path lookups over undecoded params, in candidate order.
// Used by adapters for nested paths like "item.id" without re-marshalling.
func rawFirstString(raw []byte, paths ...string) string {
	if len(raw) == 0 {
		return ""
	}
	for _, path := range paths {
		if res := gjson.GetBytes(raw, path); res.Exists() {
			if s := strings.TrimSpace(res.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// notificationThreadID extracts the thread id from any of its historical homes.
func notificationThreadID(n Notification) string {
	if id := firstString(n.Params, "threadId", "thread_id", "sessionId", "session_id"); id != "" {
		return id
	}
	if th := firstMap(n.Params, "thread", "session"); th != nil {
		if id := firstString(th, "id", "threadId", "thread_id"); id != "" {
			return id
		}
	}
	return rawFirstString(n.Raw, "thread.id", "session.id", "item.threadId", "item.thread_id")
}

func notificationTurnID(n Notification) string {
	if id := firstString(n.Params, "turnId", "turn_id", "operationId", "operation_id"); id != "" {
		return id
	}
	if turn := firstMap(n.Params, "turn"); turn != nil {
		if id := firstString(turn, "id"); id != "" {
			return id
		}
	}
	return rawFirstString(n.Raw, "turn.id")
}
