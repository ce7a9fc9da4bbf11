package jsonutil

import (
	"errors"
	"testing"
)

type reply struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want reply
	}{
		{"plain", `{"transcript":"hi","confidence":0.9}`, reply{"hi", 0.9}},
		{"fenced", "```json\n{\"transcript\":\"a}b\",\"confidence\":1}\n```", reply{"a}b", 1}},
		{"prose", `Here you go: {"transcript":"x [y]","confidence":0.5} hope it helps {}`, reply{"x [y]", 0.5}},
		{"escaped quote", `{"transcript":"say \"}\" now","confidence":0}`, reply{`say "}" now`, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON[reply](tt.raw)
			if err != nil {
				t.Fatalf("ParseJSON() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseJSON() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseJSON_Errors(t *testing.T) {
	if _, err := ParseJSON[reply]("no json here"); !errors.Is(err, ErrNoJSON) {
		t.Errorf("err = %v, want ErrNoJSON", err)
	}
	if _, err := ParseJSON[reply](`{"transcript": "unterminated`); err == nil {
		t.Error("expected unterminated error")
	}
	if _, err := ParseJSON[reply](`{"transcript": 5}`); err == nil {
		t.Error("expected type error")
	}
}
