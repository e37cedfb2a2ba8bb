// Package coco defines the COCO-style aggregate document emitted by the
// converter.
package coco

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// InstancesType is the fixed value of Document.Type.
	InstancesType = "instances"
	// NoSupercategory is the fixed supercategory of every category.
	NoSupercategory = "none"
)

// ImageID identifies an image. It is numeric when extracted from the file
// name and an opaque key (the file stem) otherwise, and marshals to a JSON
// number or string accordingly.
type ImageID struct {
	num     int64
	key     string
	numeric bool
}

// NumericID returns an ImageID holding n.
func NumericID(n int64) ImageID {
	return ImageID{num: n, numeric: true}
}

// KeyID returns an ImageID holding the opaque key s.
func KeyID(s string) ImageID {
	return ImageID{key: s}
}

// IsNumeric reports whether the id holds an integer.
func (id ImageID) IsNumeric() bool { return id.numeric }

// Int returns the integer value and whether the id is numeric.
func (id ImageID) Int() (int64, bool) { return id.num, id.numeric }

func (id ImageID) String() string {
	if id.numeric {
		return strconv.FormatInt(id.num, 10)
	}
	return id.key
}

// MarshalJSON implements json.Marshaler.
func (id ImageID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
	return json.Marshal(id.key)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ImageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = KeyID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("image id: %w", err)
	}
	*id = NumericID(n)
	return nil
}

// Image is one entry of Document.Images.
type Image struct {
	FileName string  `json:"file_name"`
	Height   int     `json:"height"`
	Width    int     `json:"width"`
	ID       ImageID `json:"id"`
}

// BBox is [x_min, y_min, width, height] in 0-based pixel coordinates.
type BBox [4]int

// Annotation is one entry of Document.Annotations.
type Annotation struct {
	Area         int     `json:"area"`
	IsCrowd      int     `json:"iscrowd"`
	BBox         BBox    `json:"bbox"`
	CategoryID   int     `json:"category_id"`
	Ignore       int     `json:"ignore"`
	Segmentation []int   `json:"segmentation"`
	ImageID      ImageID `json:"image_id"`
	ID           int     `json:"id"`
}

// NewAnnotation builds an annotation with the fixed fields filled in.
// Segmentation is always an empty, non-nil slice so it encodes as [].
func NewAnnotation(id int, imageID ImageID, categoryID int, box BBox, area int) Annotation {
	return Annotation{
		Area:         area,
		BBox:         box,
		CategoryID:   categoryID,
		Segmentation: []int{},
		ImageID:      imageID,
		ID:           id,
	}
}

// Category is one entry of Document.Categories.
type Category struct {
	Supercategory string `json:"supercategory"`
	ID            int    `json:"id"`
	Name          string `json:"name"`
}

// Document is the aggregate output.
type Document struct {
	Images      []Image      `json:"images"`
	Type        string       `json:"type"`
	Annotations []Annotation `json:"annotations"`
	Categories  []Category   `json:"categories"`
}

// NewDocument returns an empty document whose slices encode as [] rather
// than null.
func NewDocument() *Document {
	return &Document{
		Images:      []Image{},
		Type:        InstancesType,
		Annotations: []Annotation{},
		Categories:  []Category{},
	}
}

// CategoryIDs returns the set of category ids present in Categories.
func (d *Document) CategoryIDs() map[int]bool {
	ids := make(map[int]bool, len(d.Categories))
	for _, c := range d.Categories {
		ids[c.ID] = true
	}
	return ids
}

// DanglingCategories returns annotation ids whose category_id is not among
// the document's categories.
func (d *Document) DanglingCategories() []int {
	ids := d.CategoryIDs()
	var dangling []int
	for _, a := range d.Annotations {
		if !ids[a.CategoryID] {
			dangling = append(dangling, a.ID)
		}
	}
	return dangling
}
