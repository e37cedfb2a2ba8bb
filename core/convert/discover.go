package convert

import (
	"context"
	"strings"

	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/core/source"
	"github.com/FocuswithJustin/voc2coco/core/xml"
)

// DiscoverLabels collects the distinct object names used across sources, in
// first-seen order. The result can be saved as a labels file.
func DiscoverLabels(ctx context.Context, sources []source.Source) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nodes, err := objectNames(src)
		if err != nil {
			return nil, &DocumentError{Source: src.Name(), Err: err}
		}
		for _, n := range nodes {
			name := strings.TrimSpace(n)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func objectNames(src source.Source) ([]string, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	d, err := xml.ParseReader(rc)
	if err != nil {
		return nil, errors.NewParse("XML", src.Name(), err.Error())
	}
	nodes, err := d.XPath("/*/object/name")
	if err != nil {
		return nil, err
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Text()
	}
	return out, nil
}
