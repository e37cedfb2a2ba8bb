// Package voc reads one VOC-style annotation document into an image record
// and a list of partial annotations.
//
// The parser works against the Element interface rather than a concrete
// XML library, so any tree backend can be adapted to it.
package voc

import (
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/voc2coco/core/coco"
	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/core/labels"
)

// Element is the structural view of an annotation tree.
type Element interface {
	// FindChild returns the first child element named tag.
	FindChild(tag string) (Element, bool)
	// TextOf returns the text of the first child element named tag.
	TextOf(tag string) (string, bool)
	// Children returns every child element named tag in document order.
	Children(tag string) []Element
}

// Partial is an annotation before the aggregator assigns its id and image id.
type Partial struct {
	CategoryID int
	BBox       coco.BBox
	Area       int
}

// Result is the parsed form of one annotation document.
type Result struct {
	Image   coco.Image
	Objects []Partial
}

var digitRun = regexp.MustCompile(`[0-9]+`)

// Parse extracts the image record and every object of root. It fails on the
// first invalid field; a failed parse returns no partial result.
func Parse(root Element, reg *labels.Registry, extractNumericID bool) (*Result, error) {
	img, err := ParseImage(root, extractNumericID)
	if err != nil {
		return nil, err
	}

	objects := root.Children("object")
	res := &Result{Image: img, Objects: make([]Partial, 0, len(objects))}
	for _, obj := range objects {
		p, err := ParseObject(obj, reg)
		if err != nil {
			return nil, err
		}
		res.Objects = append(res.Objects, p)
	}
	return res, nil
}

// ParseImage reads file name, identifier and size from root.
func ParseImage(root Element, extractNumericID bool) (coco.Image, error) {
	var img coco.Image

	raw, _ := root.TextOf("path")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw, _ = root.TextOf("filename")
		raw = strings.TrimSpace(raw)
	}
	name := baseName(raw)
	if name == "" {
		return img, errors.NewMissingField("filename", "")
	}
	img.FileName = name

	id, err := imageID(name, extractNumericID)
	if err != nil {
		return img, err
	}
	img.ID = id

	size, ok := root.FindChild("size")
	if !ok {
		return img, errors.NewMissingField("size", "")
	}
	if img.Width, err = positiveInt(size, "size", "width"); err != nil {
		return img, err
	}
	if img.Height, err = positiveInt(size, "size", "height"); err != nil {
		return img, err
	}
	return img, nil
}

// ParseObject converts one <object> element. VOC boxes are 1-based, so the
// top-left corner shifts by one; width and height are the differences of
// the source corners.
func ParseObject(obj Element, reg *labels.Registry) (Partial, error) {
	var p Partial

	label, _ := obj.TextOf("name")
	label = strings.TrimSpace(label)
	id, ok := reg.Lookup(label)
	if !ok {
		return p, errors.NewUnknownLabel(label)
	}
	p.CategoryID = id

	box, ok := obj.FindChild("bndbox")
	if !ok {
		return p, errors.NewMissingField("object/bndbox", "")
	}
	var c [4]int
	for i, tag := range [4]string{"xmin", "ymin", "xmax", "ymax"} {
		v, err := coordinate(box, tag)
		if err != nil {
			return p, err
		}
		c[i] = v
	}
	width, height := c[2]-c[0], c[3]-c[1]
	if width <= 0 || height <= 0 || width > math.MaxInt32 || height > math.MaxInt32 {
		return p, errors.NewInvalidGeometry(c[0], c[1], c[2], c[3])
	}
	p.BBox = coco.BBox{c[0] - 1, c[1] - 1, width, height}
	p.Area = width * height
	return p, nil
}

// baseName accepts both slash styles since annotation tools on Windows
// write backslash paths.
func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// imageID derives the identifier from the stem of name. In numeric mode only
// the first digit run counts, so "cam2_00042" yields 2.
func imageID(name string, extractNumericID bool) (coco.ImageID, error) {
	stem := strings.TrimSuffix(name, path.Ext(name))
	if !extractNumericID {
		return coco.KeyID(stem), nil
	}
	run := digitRun.FindString(stem)
	if run == "" {
		return coco.ImageID{}, errors.NewMalformedIdentifier(stem, "")
	}
	n, err := strconv.ParseInt(run, 10, 64)
	if err != nil {
		return coco.ImageID{}, errors.NewMalformedIdentifier(stem, "digit run out of range")
	}
	return coco.NumericID(n), nil
}

func positiveInt(parent Element, prefix, tag string) (int, error) {
	field := prefix + "/" + tag
	raw, ok := parent.TextOf(tag)
	if !ok {
		return 0, errors.NewMissingField(field, "")
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.NewMissingField(field, "not an integer: "+strconv.Quote(raw))
	}
	if n <= 0 {
		return 0, errors.NewMissingField(field, "must be positive")
	}
	return n, nil
}

// coordinate accepts "12" as well as "12.7"; decimals truncate toward zero.
// Integer and decimal forms share the same 32-bit range.
func coordinate(box Element, tag string) (int, error) {
	field := "bndbox/" + tag
	raw, ok := box.TextOf(tag)
	if !ok {
		return 0, errors.NewMissingField(field, "")
	}
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 32)
	if err == nil {
		return int(n), nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, errors.NewMissingField(field, "out of range: "+strconv.Quote(raw))
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.NewMissingField(field, "not a number: "+strconv.Quote(raw))
	}
	if f = math.Trunc(f); f > math.MaxInt32 || f < math.MinInt32 {
		return 0, errors.NewMissingField(field, "out of range: "+strconv.Quote(raw))
	}
	return int(f), nil
}
