package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind_Permanent(t *testing.T) {
	tests := []struct {
		kind      Kind
		permanent bool
	}{
		{KindInvalidPath, true},
		{KindUnsupportedCategory, true},
		{KindCeilingExceeded, true},
		{KindCorruptSource, true},
		{KindInvalidEnvelope, true},
		{KindInvalidEvent, true},
		{KindTransientIO, false},
		{KindInternalFault, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Permanent(); got != tt.permanent {
				t.Errorf("Permanent() = %v, want %v", got, tt.permanent)
			}
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := New(KindInvalidPath, "junk/f1.pdf", "object path does not match")
	wrapped := fmt.Errorf("parse: %w", base)

	if got := KindOf(wrapped); got != KindInvalidPath {
		t.Errorf("KindOf() = %v, want InvalidPath", got)
	}
	if !IsPermanent(wrapped) {
		t.Error("expected wrapped InvalidPath to be permanent")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternalFault {
		t.Errorf("KindOf(plain) = %v, want InternalFault", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTransientIO {
		t.Errorf("KindOf(deadline) = %v, want TransientIO", got)
	}
	if got := KindOf(nil); got != 0 {
		t.Errorf("KindOf(nil) = %v, want 0", got)
	}
}

func TestError_Message(t *testing.T) {
	err := Wrap(KindTransientIO, "text/f1.txt", "upload failed", errors.New("connection reset"))
	want := "TransientIO: upload failed (text/f1.txt): connection reset"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestClassify(t *testing.T) {
	fe := Classify(errors.New("nil map"), "f1")
	if fe.Kind != KindInternalFault || fe.Identifier != "f1" {
		t.Errorf("Classify(plain) = %+v", fe)
	}

	orig := New(KindCorruptSource, "a.pdf", "bad signature")
	if got := Classify(orig, "other"); got != orig {
		t.Error("Classify should return an already classified error unchanged")
	}
	if Classify(nil, "x") != nil {
		t.Error("Classify(nil) should be nil")
	}
}
