package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "extract-lambda"
	defer func() { functionName = "" }()

	r := New(Namespace)
	if r.dimensions["FunctionName"] != "extract-lambda" {
		t.Errorf("FunctionName dimension = %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := capture(t)
	initOnce.Do(func() {})
	functionName = ""

	New(Namespace).
		Dimension("Operation", "extract").
		Dimension("Outcome", "accepted").
		Duration("ProcessingMs", 1500*time.Millisecond).
		Metric("UnitsWritten", 3, UnitCount).
		Property("fileId", "f1").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if doc["ProcessingMs"] != float64(1500) {
		t.Errorf("ProcessingMs = %v", doc["ProcessingMs"])
	}
	if doc["Operation"] != "extract" || doc["fileId"] != "f1" {
		t.Errorf("fields missing: %v", doc)
	}

	aws := doc["_aws"].(map[string]any)
	cw := aws["CloudWatchMetrics"].([]any)[0].(map[string]any)
	if cw["Namespace"] != Namespace {
		t.Errorf("Namespace = %v", cw["Namespace"])
	}
	dims := cw["Dimensions"].([]any)[0].([]any)
	if len(dims) != 2 || dims[0] != "Operation" || dims[1] != "Outcome" {
		t.Errorf("Dimensions = %v", dims)
	}
	ms := cw["Metrics"].([]any)
	if len(ms) != 2 || ms[0].(map[string]any)["Name"] != "ProcessingMs" {
		t.Errorf("Metrics = %v", ms)
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := capture(t)
	New(Namespace).Dimension("Operation", "extract").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}
