package extract

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// Dispatcher maps each non-terminal category to exactly one handler.
type Dispatcher struct {
	classifier *category.Classifier
	handlers   map[category.Category]Handler
	unpacker   Unpacker
	now        func() time.Time
}

// NewDispatcher builds a Dispatcher. Categories with no registered handler
// are treated like Unsupported.
func NewDispatcher(classifier *category.Classifier, handlers map[category.Category]Handler, unpacker Unpacker) *Dispatcher {
	hs := make(map[category.Category]Handler, len(handlers))
	for c, h := range handlers {
		if c != category.Unsupported && c != category.Archive && h != nil {
			hs[c] = h
		}
	}
	return &Dispatcher{classifier: classifier, handlers: hs, unpacker: unpacker, now: time.Now}
}

// Classify resolves the effective content type of p and its category.
func (d *Dispatcher) Classify(p Payload) Payload {
	p.ContentType = category.Resolve(p.ContentType, p.Name)
	p.Category = d.classifier.Classify(p.ContentType)
	return p
}

// ClassifyAndDispatch classifies p and dispatches it. This is the recursion
// entry point handed to the archive unpacker.
func (d *Dispatcher) ClassifyAndDispatch(ctx context.Context, p Payload, depth int) (*Batch, error) {
	return d.Dispatch(ctx, d.Classify(p), depth)
}

// Dispatch routes p to the handler for p.Category. Unsupported categories are
// rejected permanently before the payload is opened. Handler errors are
// returned unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload, depth int) (*Batch, error) {
	if p.Category == category.Archive && d.unpacker != nil {
		return d.unpacker.Unpack(ctx, p, depth, d.ClassifyAndDispatch)
	}

	h, ok := d.handlers[p.Category]
	if !ok {
		return nil, failure.Newf(failure.KindUnsupportedCategory, p.Name,
			"content type %q is not supported", p.ContentType)
	}

	start := d.now()
	res, err := h.Extract(ctx, p)
	if err != nil {
		return nil, err
	}
	took := d.now().Sub(start)

	CountText(res.Text, &res.Metrics)

	log.Debug().
		Str("name", p.Name).
		Str("category", string(p.Category)).
		Str("method", res.Method).
		Int("chars", res.Metrics.CharacterCount).
		Dur("took", took).
		Msg("Extracted payload")

	return &Batch{Units: []Unit{{
		SourceFileID: p.FileID,
		ContentType:  p.ContentType,
		Category:     p.Category,
		Size:         p.Size,
		Depth:        depth,
		Duration:     took,
		ExtractedAt:  start.UTC(),
		Result:       *res,
	}}}, nil
}
