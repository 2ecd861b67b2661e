package executor

import (
	"errors"
	"strings"
	"testing"

	"github.com/router-for-me/GenGateway/internal/interfaces"
)

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"first text part", `{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}},{"content":{"parts":[{"text":"c"}]}}]}`, "a"},
		{"skips non-text parts", `{"candidates":[{"content":{"parts":[{"inlineData":{"data":"x"}},{"text":"b"}]}}]}`, "b"},
		{"no candidates", `{"candidates":[]}`, ""},
		{"no text part", `{"candidates":[{"content":{"parts":[{"inlineData":{"data":"x"}}]}}]}`, ""},
		{"only later candidate has text", `{"candidates":[{"content":{"parts":[]}},{"content":{"parts":[{"text":"c"}]}}]}`, ""},
		{"not json", `oops`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractText([]byte(tc.body)); got != tc.want {
				t.Fatalf("ExtractText() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractImage_FirstInlinePartAcrossCandidates(t *testing.T) {
	body := `{"candidates":[
		{"content":{"parts":[{"text":"thinking"}]}},
		{"content":{"parts":[{"text":"here"},{"inlineData":{"mimeType":"image/jpeg","data":"Rk9P"}},{"inlineData":{"mimeType":"image/png","data":"QkFS"}}]}}
	]}`
	got, err := ExtractImage([]byte(body))
	if err != nil {
		t.Fatalf("ExtractImage() error = %v", err)
	}
	if got != "data:image/jpeg;base64,Rk9P" {
		t.Fatalf("ExtractImage() = %q", got)
	}
}

func TestExtractImage_SnakeCase(t *testing.T) {
	got, err := ExtractImage([]byte(`{"candidates":[{"content":{"parts":[{"inline_data":{"mime_type":"image/webp","data":"V0VC"}}]}}]}`))
	if err != nil {
		t.Fatalf("ExtractImage() error = %v", err)
	}
	if got != "data:image/webp;base64,V0VC" {
		t.Fatalf("ExtractImage() = %q", got)
	}
}

func TestExtractImage_AllTextIsExtractionError(t *testing.T) {
	_, err := ExtractImage([]byte(`{"candidates":[{"content":{"parts":[{"text":"no image"}]},"finishReason":"SAFETY"}]}`))
	var extractErr *interfaces.ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if !strings.Contains(extractErr.Msg, "SAFETY") {
		t.Fatalf("message = %q", extractErr.Msg)
	}
}

func TestExtractImage_BlockedPrompt(t *testing.T) {
	_, err := ExtractImage([]byte(`{"promptFeedback":{"blockReason":"PROHIBITED_CONTENT"}}`))
	var extractErr *interfaces.ExtractionError
	if !errors.As(err, &extractErr) || !strings.Contains(extractErr.Msg, "PROHIBITED_CONTENT") {
		t.Fatalf("unexpected error %v", err)
	}
}
