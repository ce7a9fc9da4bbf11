package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/failure"
)

type countingHandler struct {
	calls int
	res   *Result
	err   error
}

func (h *countingHandler) Extract(ctx context.Context, p Payload) (*Result, error) {
	h.calls++
	return h.res, h.err
}

type fakeUnpacker struct {
	depth int
	next  Func
}

func (u *fakeUnpacker) Unpack(ctx context.Context, p Payload, depth int, next Func) (*Batch, error) {
	u.depth = depth
	u.next = next
	b, err := next(ctx, Payload{FileID: p.FileID, Name: "inner.txt", Path: "/dev/null"}, depth+1)
	if err != nil {
		return nil, err
	}
	b.Archive = true
	return b, nil
}

func TestDispatch_Unsupported(t *testing.T) {
	text := &countingHandler{res: &Result{Text: "x"}}
	d := NewDispatcher(category.Default(), map[category.Category]Handler{category.Text: text}, nil)

	_, err := d.Dispatch(context.Background(), Payload{Name: "a.png", ContentType: "image/png", Category: category.Unsupported}, 0)
	if failure.KindOf(err) != failure.KindUnsupportedCategory {
		t.Fatalf("err = %v, want UnsupportedCategory", err)
	}
	if !failure.IsPermanent(err) {
		t.Error("UnsupportedCategory must be permanent")
	}
	if text.calls != 0 {
		t.Error("no handler may be invoked for unsupported payloads")
	}
}

func TestDispatch_RoutesAndCounts(t *testing.T) {
	text := &countingHandler{res: &Result{Text: "hello world\nsecond line\n", Method: "utf-8"}}
	doc := &countingHandler{res: &Result{Text: "doc"}}
	d := NewDispatcher(category.Default(), map[category.Category]Handler{
		category.Text:     text,
		category.Document: doc,
	}, nil)

	b, err := d.Dispatch(context.Background(), Payload{FileID: "f1", Name: "a.txt", ContentType: "text/plain", Category: category.Text, Size: 24}, 0)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if text.calls != 1 || doc.calls != 0 {
		t.Errorf("calls text=%d doc=%d", text.calls, doc.calls)
	}
	if len(b.Units) != 1 {
		t.Fatalf("units = %d", len(b.Units))
	}
	u := b.Units[0]
	if u.SourceFileID != "f1" || u.SequenceIndex != 0 || b.Archive {
		t.Errorf("unit = %+v", u)
	}
	if u.Metrics.LineCount != 2 || u.Metrics.WordCount != 4 {
		t.Errorf("metrics = %+v", u.Metrics)
	}
}

func TestDispatch_PropagatesHandlerError(t *testing.T) {
	want := failure.Transient("a.pdf", "parse failed", errors.New("eof"))
	h := &countingHandler{err: want}
	d := NewDispatcher(category.Default(), map[category.Category]Handler{category.Document: h}, nil)

	_, err := d.Dispatch(context.Background(), Payload{Category: category.Document}, 0)
	if err != want {
		t.Errorf("err = %v, want unchanged handler error", err)
	}
}

func TestDispatch_ArchiveRecursesThroughClassifier(t *testing.T) {
	text := &countingHandler{res: &Result{Text: "inner"}}
	u := &fakeUnpacker{}
	d := NewDispatcher(category.Default(), map[category.Category]Handler{category.Text: text}, u)

	b, err := d.Dispatch(context.Background(), Payload{FileID: "f1", Name: "a.zip", Category: category.Archive}, 0)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if u.depth != 0 {
		t.Errorf("unpacker depth = %d", u.depth)
	}
	if !b.Archive || len(b.Units) != 1 || b.Units[0].Depth != 1 {
		t.Errorf("batch = %+v", b)
	}
	if b.Units[0].Category != category.Text || b.Units[0].ContentType != "text/plain" {
		t.Errorf("entry not classified from its name: %+v", b.Units[0])
	}
}

func TestLineCount(t *testing.T) {
	tests := map[string]int{
		"":           0,
		"a":          1,
		"a\n":        1,
		"a\nb":       2,
		"a\r\nb\r\n": 2,
		"\n\n":       2,
	}
	for in, want := range tests {
		if got := LineCount(in); got != want {
			t.Errorf("LineCount(%q) = %d, want %d", in, got, want)
		}
	}
}
