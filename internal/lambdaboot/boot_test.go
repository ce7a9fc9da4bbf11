package lambdaboot

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/notify"
)

func TestInitNotifier_NoTargets(t *testing.T) {
	n := InitNotifier(aws.Config{Region: "us-east-1"}, config.StatusTargets{})
	if _, ok := n.(notify.Nop); !ok {
		t.Errorf("notifier = %T, want notify.Nop", n)
	}
}

func TestInitNotifier_AllTargets(t *testing.T) {
	n := InitNotifier(aws.Config{Region: "us-east-1"}, config.StatusTargets{
		URL:         "https://status.example.com",
		EventBus:    "extract-bus",
		TableName:   "file-status",
		FunctionARN: "arn:aws:lambda:us-east-1:123456789012:function:status",
	})
	multi, ok := n.(notify.Multi)
	if !ok {
		t.Fatalf("notifier = %T, want notify.Multi", n)
	}
	if len(multi) != 4 {
		t.Errorf("targets = %d, want 4", len(multi))
	}
}

func TestInitTranscriber_DisabledWithoutKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if tr := InitTranscriber(config.Default()); tr != nil {
		t.Errorf("transcriber = %T, want nil", tr)
	}
}
