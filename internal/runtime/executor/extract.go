package executor

import (
	"strings"

	"github.com/router-for-me/GenGateway/internal/interfaces"
	"github.com/tidwall/gjson"
)

// ExtractText returns the first text part of the first candidate, or "" when there is none.
func ExtractText(data []byte) string {
	parts := gjson.GetBytes(data, "candidates.0.content.parts")
	for _, part := range parts.Array() {
		if text := part.Get("text"); text.Exists() {
			return text.String()
		}
	}
	return ""
}

// ExtractImage scans candidates in order, then their parts in order, and returns the first
// inline binary part as a data URL. Both camelCase and snake_case keys are accepted.
func ExtractImage(data []byte) (string, error) {
	for _, candidate := range gjson.GetBytes(data, "candidates").Array() {
		for _, part := range candidate.Get("content.parts").Array() {
			inline := part.Get("inlineData")
			if !inline.Exists() {
				inline = part.Get("inline_data")
			}
			payload := inline.Get("data").String()
			if payload == "" {
				continue
			}
			mimeType := inline.Get("mimeType").String()
			if mimeType == "" {
				mimeType = inline.Get("mime_type").String()
			}
			return interfaces.DataURL(mimeType, payload), nil
		}
	}

	msg := "no image in model response"
	if reason := gjson.GetBytes(data, "promptFeedback.blockReason").String(); reason != "" {
		msg += " (blocked: " + reason + ")"
	} else if reason = gjson.GetBytes(data, "candidates.0.finishReason").String(); reason != "" && !strings.EqualFold(reason, "STOP") {
		msg += " (finish reason: " + reason + ")"
	}
	return "", &interfaces.ExtractionError{Msg: msg}
}
