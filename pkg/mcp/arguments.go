package mcp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Models emit tool arguments in whatever shape their provider trained
// them toward: strict JSON, YAML fragments, loose "key: value" lists,
// or a bare string. ParseToolArguments normalizes all of them into the
// map the MCP call wants, trying each strategy in order and falling
// back to wrapping the raw text under "input" so a tool always receives
// *something* structured. Empty input returns an empty map (for
// no-parameter tools).
func ParseToolArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	for _, parse := range argumentStrategies {
		if args, ok := parse(raw); ok {
			return args, nil
		}
	}
	return map[string]any{"input": raw}, nil
}

// argumentStrategies is the ordered parse chain. Order matters: JSON is
// authoritative when it parses, YAML only claims input with real
// structure, and the key-value parser mops up the flat "k: v, k2: v2"
// shape both of the above decline.
var argumentStrategies = []func(string) (map[string]any, bool){
	parseJSONArguments,
	parseYAMLArguments,
	parseKeyValueArguments,
}

// parseJSONArguments accepts any valid JSON. Objects are used directly;
// arrays, strings, numbers, booleans, and null are wrapped as
// {"input": value}.
func parseJSONArguments(raw string) (map[string]any, bool) {
	// Quick-reject: first byte must plausibly start a JSON value, so
	// plain prose never pays for a full parse attempt.
	b := raw[0]
	isJSONStart := b == '{' || b == '[' || b == '"' ||
		(b >= '0' && b <= '9') || b == '-' ||
		b == 't' || b == 'f' || b == 'n'
	if !isJSONStart {
		return nil, false
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false
	}
	if m, ok := value.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"input": value}, true
}

// parseYAMLArguments accepts YAML only when the result is a map with
// complex values (arrays, nested maps). Flat "key: value" lines are
// left for the key-value parser, to avoid false positives on plain
// text that happens to look like YAML.
func parseYAMLArguments(raw string) (map[string]any, bool) {
	var result map[string]any
	if err := yaml.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}
	for _, v := range result {
		switch v.(type) {
		case []any, map[string]any:
			return result, true
		}
	}
	return nil, false
}

// parseKeyValueArguments accepts "key: value" or "key=value" pairs
// separated by commas or newlines. All-or-nothing: one malformed pair
// rejects the whole input rather than silently dropping it.
//
// Known limitation: values containing commas (e.g., "tags: a,b,c,
// name: foo") will be mis-split. Such input falls through to the
// raw-string fallback, which is safe but loses structured parsing.
func parseKeyValueArguments(raw string) (map[string]any, bool) {
	normalized := strings.ReplaceAll(raw, "\n", ",")

	result := make(map[string]any)
	for _, part := range strings.Split(normalized, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := splitPair(part)
		if !ok {
			return nil, false
		}
		result[key] = coerceScalar(value)
	}

	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

// splitPair parses a single "key: value" or "key=value" pair. A key
// must be a simple identifier: non-empty, no spaces.
func splitPair(part string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		idx := strings.Index(part, sep)
		if idx <= 0 {
			continue
		}
		k := strings.TrimSpace(part[:idx])
		if k == "" || strings.Contains(k, " ") {
			continue
		}
		return k, strings.TrimSpace(part[idx+len(sep):]), true
	}
	return "", "", false
}

// coerceScalar converts a key-value string into the Go type a JSON
// parse would have produced, so a tool sees the same argument types
// regardless of which shape the model emitted.
func coerceScalar(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		// NaN/Inf are not valid in JSON; keep the raw string instead.
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return s
		}
		return f
	}
	return s
}
