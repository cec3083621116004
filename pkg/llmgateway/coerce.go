package llmgateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ErrStructuredOutputParseFailed is returned by CoerceJSON when no
// balanced JSON object could be extracted from the model's response.
var ErrStructuredOutputParseFailed = fmt.Errorf("llmgateway: structured output parse failed")

// CoerceJSON decodes content into out, first trying a direct decode and
// falling back to scanning for the first balanced top-level JSON object
// in the text — models asked for structured output frequently wrap the
// JSON in prose or code fences. Parse strictly first, then salvage.
func CoerceJSON(content string, out any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.UseNumber()
	if err := dec.Decode(out); err == nil {
		return nil
	}

	extracted, ok := extractBalancedObject(content)
	if !ok {
		return ErrStructuredOutputParseFailed
	}
	dec = json.NewDecoder(bytes.NewReader([]byte(extracted)))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrStructuredOutputParseFailed, err)
	}
	return nil
}

// extractBalancedObject scans for the first top-level {...} span,
// respecting string literals and escapes so braces inside JSON string
// values don't throw off the depth count.
func extractBalancedObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}

		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
