// Package json provides tolerant decoding for JSON produced by language models.
//
// Models often wrap tool arguments in markdown fences, prefix them with
// commentary, or double-encode them as a JSON string. Decode accepts all of
// these shapes.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON finds and returns the JSON portion of a response string.
// It handles common model output patterns:
//  1. Pure JSON - returned as is
//  2. JSON wrapped in markdown code blocks (```json ... ```)
//  3. A JSON object or array embedded in text, located by its outer
//     delimiters
//  4. A JSON string whose contents are themselves a JSON document
func extractJSON(response string) (string, error) {
	response = stripMarkdownCodeBlocks(response)

	if json.Valid([]byte(response)) {
		var inner string
		if err := json.Unmarshal([]byte(response), &inner); err == nil {
			inner = strings.TrimSpace(inner)
			if json.Valid([]byte(inner)) && inner != "" && (inner[0] == '{' || inner[0] == '[') {
				return inner, nil
			}
		}
		return response, nil
	}

	for _, delims := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(response, delims[0])
		end := strings.LastIndex(response, delims[1])
		if start != -1 && end > start {
			candidate := response[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	preview := response
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("failed to extract valid JSON from response: %q", preview)
}

// stripMarkdownCodeBlocks removes markdown code block markers from a response.
func stripMarkdownCodeBlocks(response string) string {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```json"))
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}

	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}

	return trimmed
}

// Decode extracts and parses JSON from model output into T.
func Decode[T any](response string) (T, error) {
	var result T
	jsonStr, err := extractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// DecodeArgs parses tool-call arguments into a generic object. Empty or
// null arguments yield an empty map.
func DecodeArgs(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	args, err := Decode[map[string]any](string(trimmed))
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
