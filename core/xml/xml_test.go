package xml

import (
	"strings"
	"testing"
)

const annotationXML = `<?xml version="1.0"?>
<annotation>
	<folder>images</folder>
	<filename>img_00042.jpg</filename>
	<size><width>640</width><height>480</height><depth>3</depth></size>
	<object>
		<name>cat</name>
		<bndbox><xmin>10</xmin><ymin>20</ymin><xmax>110</xmax><ymax>220</ymax></bndbox>
	</object>
	<object>
		<name>dog</name>
		<bndbox><xmin>1</xmin><ymin>1</ymin><xmax>5</xmax><ymax>5</ymax></bndbox>
	</object>
</annotation>`

// TestParseValidXML verifies parsing of well-formed XML.
func TestParseValidXML(t *testing.T) {
	doc, err := ParseReader(strings.NewReader(annotationXML))
	if err != nil {
		t.Fatalf("ParseReader failed: %v", err)
	}
	root := doc.Root()
	if root == nil {
		t.Fatal("Root returned nil")
	}
	if root.Name() != "annotation" {
		t.Errorf("Root().Name() = %q, want annotation", root.Name())
	}
}

// TestParseInvalidXML verifies error handling for malformed XML.
func TestParseInvalidXML(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{"unclosed tag", "<root><element></root>"},
		{"mismatched tags", "<root></other>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReader(strings.NewReader(tt.xml))
			if err == nil {
				t.Error("Parse should fail for invalid XML")
			}
		})
	}
}

func TestFindChildAndTextOf(t *testing.T) {
	doc, err := ParseReader(strings.NewReader(annotationXML))
	if err != nil {
		t.Fatalf("ParseReader failed: %v", err)
	}
	root := doc.Root()

	if got, ok := root.TextOf("filename"); !ok || got != "img_00042.jpg" {
		t.Errorf("TextOf(filename) = %q, %v", got, ok)
	}
	if _, ok := root.TextOf("path"); ok {
		t.Error("TextOf(path) should report absence")
	}

	size, ok := root.FindChild("size")
	if !ok {
		t.Fatal("FindChild(size) not found")
	}
	if got, _ := size.TextOf("width"); got != "640" {
		t.Errorf("size/width = %q, want 640", got)
	}

	// Only direct children are matched.
	if _, ok := root.FindChild("xmin"); ok {
		t.Error("FindChild should not match grandchildren")
	}
}

func TestChildren(t *testing.T) {
	doc, err := ParseReader(strings.NewReader(annotationXML))
	if err != nil {
		t.Fatalf("ParseReader failed: %v", err)
	}
	objects := doc.Root().Children("object")
	if len(objects) != 2 {
		t.Fatalf("Children(object) = %d, want 2", len(objects))
	}
	want := []string{"cat", "dog"}
	for i, obj := range objects {
		if name, _ := obj.TextOf("name"); name != want[i] {
			t.Errorf("object %d name = %q, want %q", i, name, want[i])
		}
	}
	if got := doc.Root().Children("missing"); len(got) != 0 {
		t.Errorf("Children(missing) = %d, want 0", len(got))
	}
}

func TestUnsafeTagNamesAreRejected(t *testing.T) {
	doc, err := ParseReader(strings.NewReader(annotationXML))
	if err != nil {
		t.Fatalf("ParseReader failed: %v", err)
	}
	root := doc.Root()
	for _, tag := range []string{"", "//name", "object[1]", "@id", "a|b"} {
		if _, ok := root.FindChild(tag); ok {
			t.Errorf("FindChild(%q) should not match", tag)
		}
		if got := root.Children(tag); len(got) != 0 {
			t.Errorf("Children(%q) = %d, want 0", tag, len(got))
		}
	}
}

func TestXPath(t *testing.T) {
	doc, err := ParseReader(strings.NewReader(annotationXML))
	if err != nil {
		t.Fatalf("ParseReader failed: %v", err)
	}

	names, err := doc.XPath("//object/name")
	if err != nil {
		t.Fatalf("XPath failed: %v", err)
	}
	if len(names) != 2 || names[1].Text() != "dog" {
		t.Errorf("XPath(//object/name) returned %d nodes", len(names))
	}

	if _, err := doc.XPath("[invalid"); err == nil {
		t.Error("Invalid XPath should return error")
	}
}
