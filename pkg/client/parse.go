package client

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/isp-configurator/pkg/types"
)

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseDetection decodes a model answer. Answers that are not JSON give a
// fallback detection rather than an error, so a flaky model never stops a
// capture session.
func ParseDetection(raw string) *types.Detection {
	raw = SanitizeModelJSON(raw)

	if !strings.HasPrefix(raw, "{") {
		return types.FallbackDetection("unclear image", "Model returned non-JSON response", "unclear", "non-json")
	}

	var result types.Detection
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return types.FallbackDetection("parse error", "Failed to parse model response", "parse-error")
	}

	if result.Primary.Label == "" && result.Primary.Confidence == 0 {
		if result.Primary.Cx == 0 && result.Primary.Cy == 0 {
			result.Primary.Cx, result.Primary.Cy = 0.5, 0.5
		}
		if result.Primary.Box.W == 0 && result.Primary.Box.H == 0 {
			result.Primary.Box = types.Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}
		}
	}
	return &result
}

// SanitizeModelJSON removes code fences, comments and trailing commas and
// keeps only the outermost object.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
