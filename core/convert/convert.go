// Package convert drives the annotation parser across a list of documents
// and assembles the COCO-style aggregate.
//
// Annotation ids come from one counter shared by the whole run. A document
// is parsed completely before any of its records are committed, so a
// document that fails contributes nothing and consumes no ids.
package convert

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/FocuswithJustin/voc2coco/core/coco"
	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/core/labels"
	"github.com/FocuswithJustin/voc2coco/core/source"
	"github.com/FocuswithJustin/voc2coco/core/voc"
	"github.com/FocuswithJustin/voc2coco/core/xml"
)

// Policy selects what happens when a document fails to parse.
type Policy int

const (
	// StopOnFirstError aborts the run on the first failing document.
	StopOnFirstError Policy = iota
	// CollectAndContinue skips failing documents and records their errors.
	CollectAndContinue
)

func (p Policy) String() string {
	switch p {
	case StopOnFirstError:
		return "stop"
	case CollectAndContinue:
		return "continue"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts "stop" or "continue".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop", "stop_on_first_error":
		return StopOnFirstError, nil
	case "continue", "keep-going", "collect_and_continue":
		return CollectAndContinue, nil
	}
	return 0, errors.NewValidation("policy", fmt.Sprintf("unknown error policy %q", s))
}

// Progress is passed to the Observer after each document.
type Progress struct {
	Index       int // 1-based position of the document
	Total       int
	Source      string
	Image       *coco.Image // nil when the document failed
	Annotations int
	Err         error
}

// Observer receives one Progress per processed document. It is called from
// the goroutine running Convert, in document order.
type Observer func(Progress)

// DocumentError records a failure against the document that caused it.
type DocumentError struct {
	Source string
	Err    error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// Report is the outcome of a run.
type Report struct {
	Document  *coco.Document
	Skipped   []*DocumentError
	Documents int // documents attempted
}

// Summary renders the skipped documents one per line, or "" when nothing
// was skipped.
func (r *Report) Summary() string {
	if len(r.Skipped) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "skipped %d of %d documents:\n", len(r.Skipped), r.Documents)
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "  %s [%s]: %v\n", s.Source, errors.Code(s.Err), s.Err)
	}
	return b.String()
}

// Converter holds the settings of one conversion run.
type Converter struct {
	Registry         *labels.Registry
	ExtractNumericID bool
	Policy           Policy
	// Workers > 1 parses documents in parallel; results are still committed
	// in input order.
	Workers  int
	Observer Observer
}

// Convert processes sources in order. Under StopOnFirstError the first
// failure is returned as a *DocumentError and no document is produced.
func (c *Converter) Convert(ctx context.Context, sources []source.Source) (*Report, error) {
	if c.Registry == nil {
		return nil, errors.NewValidation("labels", "no label registry")
	}

	r := &run{
		conv:   c,
		total:  len(sources),
		doc:    coco.NewDocument(),
		nextID: 1,
	}

	var err error
	if c.Workers > 1 && len(sources) > 1 {
		err = r.parallel(ctx, sources)
	} else {
		err = r.sequential(ctx, sources)
	}
	if err != nil {
		return nil, err
	}

	for _, e := range c.Registry.Entries() {
		r.doc.Categories = append(r.doc.Categories, coco.Category{
			Supercategory: coco.NoSupercategory,
			ID:            e.ID,
			Name:          e.Name,
		})
	}

	return &Report{Document: r.doc, Skipped: r.skipped, Documents: r.total}, nil
}

// parseSource opens, parses and converts one document.
func (c *Converter) parseSource(src source.Source) (*voc.Result, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return ParseDocument(rc, src.Name(), c.Registry, c.ExtractNumericID)
}

// ParseDocument parses one annotation document read from r.
func ParseDocument(r io.Reader, name string, reg *labels.Registry, extractNumericID bool) (*voc.Result, error) {
	d, err := xml.ParseReader(r)
	if err != nil {
		return nil, errors.NewParse("XML", name, err.Error())
	}
	root := d.Root()
	if root == nil {
		return nil, errors.NewParse("XML", name, "document has no root element")
	}
	return voc.Parse(root, reg, extractNumericID)
}

type run struct {
	conv    *Converter
	total   int
	doc     *coco.Document
	skipped []*DocumentError
	nextID  int
}

func (r *run) sequential(ctx context.Context, sources []source.Source) error {
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("conversion stopped after %d of %d documents: %w", i, r.total, err)
		}
		res, err := r.conv.parseSource(src)
		if err := r.commit(i, src, res, err); err != nil {
			return err
		}
	}
	return nil
}

type parsed struct {
	res *voc.Result
	err error
}

// parallel parses on a worker pool and commits in input order as results
// become contiguous.
func (r *run) parallel(ctx context.Context, sources []source.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := newWorkerPool[source.Source, parsed](r.conv.Workers, len(sources))
	pool.start(func(src source.Source) parsed {
		if err := ctx.Err(); err != nil {
			return parsed{err: err}
		}
		res, err := r.conv.parseSource(src)
		return parsed{res: res, err: err}
	})
	for i, src := range sources {
		pool.submit(i, src)
	}
	pool.close()

	pending := make(map[int]parsed)
	next := 0
	var firstErr error
	for out := range pool.results {
		if firstErr != nil {
			continue
		}
		pending[out.index] = out.value
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if ctx.Err() != nil && (p.err == context.Canceled || p.err == context.DeadlineExceeded) {
				firstErr = fmt.Errorf("conversion stopped after %d of %d documents: %w", next, r.total, p.err)
				cancel()
				break
			}
			if err := r.commit(next, sources[next], p.res, p.err); err != nil {
				firstErr = err
				cancel()
				break
			}
			next++
		}
	}
	return firstErr
}

// commit appends a parsed document, or records its failure according to the
// policy. The returned error aborts the run.
func (r *run) commit(i int, src source.Source, res *voc.Result, err error) error {
	p := Progress{Index: i + 1, Total: r.total, Source: src.Name()}

	if err != nil {
		derr := &DocumentError{Source: src.Name(), Err: err}
		p.Err = derr
		r.notify(p)
		if r.conv.Policy == StopOnFirstError {
			return derr
		}
		r.skipped = append(r.skipped, derr)
		return nil
	}

	r.doc.Images = append(r.doc.Images, res.Image)
	for _, obj := range res.Objects {
		r.doc.Annotations = append(r.doc.Annotations,
			coco.NewAnnotation(r.nextID, res.Image.ID, obj.CategoryID, obj.BBox, obj.Area))
		r.nextID++
	}

	img := res.Image
	p.Image = &img
	p.Annotations = len(res.Objects)
	r.notify(p)
	return nil
}

func (r *run) notify(p Progress) {
	if r.conv.Observer != nil {
		r.conv.Observer(p)
	}
}
