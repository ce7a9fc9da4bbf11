package audio

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

func TestClassifyGeminiError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"bad request", fmt.Errorf("generate: %w", genai.APIError{Code: 400, Message: "unsupported audio"}), failure.KindCorruptSource},
		{"unauthenticated", fmt.Errorf("generate: %w", genai.APIError{Code: 401}), failure.KindInternalFault},
		{"forbidden", fmt.Errorf("generate: %w", genai.APIError{Code: 403}), failure.KindInternalFault},
		{"rate limited", fmt.Errorf("generate: %w", genai.APIError{Code: 429}), failure.KindTransientIO},
		{"server error", fmt.Errorf("generate: %w", genai.APIError{Code: 500}), failure.KindTransientIO},
		{"unwrapped", genai.APIError{Code: 403}, failure.KindInternalFault},
		{"not found", fmt.Errorf("generate: %w", genai.APIError{Code: 404}), failure.KindInternalFault},
		{"network", fmt.Errorf("dial: %w", context.DeadlineExceeded), failure.KindTransientIO},
		{"plain", errors.New("connection reset"), failure.KindTransientIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyGeminiError("a.wav", tt.err)
			if kind := failure.KindOf(got); kind != tt.want {
				t.Errorf("classifyGeminiError() kind = %v, want %v (%v)", kind, tt.want, got)
			}
			var apiErr genai.APIError
			if errors.As(tt.err, &apiErr) && !errors.As(got, &apiErr) {
				t.Error("classified error does not wrap the API error")
			}
		})
	}
}
