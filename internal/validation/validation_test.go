package validation

import (
	"archive/tar"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"
)

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  error
	}{
		{"plain xml", "img_00042.xml", nil},
		{"compressed", "img_00042.xml.xz", nil},
		{"unicode", "caméra_7.xml", nil},
		{"empty", "", ErrInvalidFilename},
		{"dot", ".", ErrInvalidFilename},
		{"dotdot", "..", ErrInvalidFilename},
		{"slash", "a/b.xml", ErrInvalidFilename},
		{"backslash", `a\b.xml`, ErrInvalidFilename},
		{"null byte", "a\x00.xml", ErrInvalidFilename},
		{"newline", "a\n.xml", ErrInvalidFilename},
		{"leading hyphen", "-rf.xml", ErrInvalidFilename},
		{"too long", strings.Repeat("a", MaxFilenameLength+1), ErrFilenameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateFilename(%q) unexpected error: %v", tt.filename, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFilename(%q) = %v, want %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFileCount(t *testing.T) {
	if err := ValidateFileCount(1); err != nil {
		t.Errorf("one file: %v", err)
	}
	if err := ValidateFileCount(0); !errors.Is(err, ErrNoFiles) || errors.Is(err, ErrInvalidFilename) {
		t.Errorf("zero files: %v, want ErrNoFiles", err)
	}
	if err := ValidateFileCount(MaxFiles + 1); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("too many files: %v", err)
	}
}

func TestReadLimited(t *testing.T) {
	data, err := ReadLimited(strings.NewReader("<annotation/>"))
	if err != nil || string(data) != "<annotation/>" {
		t.Errorf("ReadLimited = %q, %v", data, err)
	}

	big := bytes.NewReader(make([]byte, MaxFileSize+1))
	if _, err := ReadLimited(big); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("oversized read error = %v, want ErrFileTooLarge", err)
	}
}

func xzBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(s))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want FileType
	}{
		{"xml", []byte("<annotation></annotation>"), FileTypeXML},
		{"xml with declaration and BOM", []byte("\xef\xbb\xbf<?xml version=\"1.0\"?><annotation/>"), FileTypeXML},
		{"leading whitespace", []byte("\n  <annotation/>"), FileTypeXML},
		{"text", []byte("cat dog bird"), FileTypeText},
		{"xz", xzBytes(t, "<annotation/>"), FileTypeXZ},
		{"gzip", []byte{0x1f, 0x8b, 0x08, 0x00}, FileTypeGzip},
		{"tar", tarBytes(t), FileTypeTar},
		{"binary", []byte{0x00, 0x01, 0x02}, FileTypeUnknown},
		{"empty", nil, FileTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFileType(tt.data); got != tt.want {
				t.Errorf("DetectFileType = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateAnnotation(t *testing.T) {
	xmlDoc := []byte("<annotation><filename>a.jpg</filename></annotation>")
	xzDoc := xzBytes(t, string(xmlDoc))

	tests := []struct {
		name     string
		data     []byte
		filename string
		want     FileType
		wantErr  bool
	}{
		{"xml", xmlDoc, "img_1.xml", FileTypeXML, false},
		{"xz", xzDoc, "img_1.xml.xz", FileTypeXZ, false},
		{"uppercase xz suffix", xzDoc, "img_1.XML.XZ", FileTypeXZ, false},
		{"xml named xz", xmlDoc, "img_1.xml.xz", FileTypeUnknown, true},
		{"xz without suffix", xzDoc, "img_1.xml", FileTypeUnknown, true},
		{"plain text", []byte("not xml at all"), "img_1.xml", FileTypeUnknown, true},
		{"binary", []byte{0x89, 'P', 'N', 'G', 0x00}, "img_1.png", FileTypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAnnotation(tt.data, tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAnnotation error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsupportedType) {
				t.Errorf("error %v should wrap ErrUnsupportedType", err)
			}
			if got != tt.want {
				t.Errorf("ValidateAnnotation = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateLabels(t *testing.T) {
	if err := ValidateLabels([]byte("cat, dog\nbird")); err != nil {
		t.Errorf("text labels: %v", err)
	}
	if err := ValidateLabels(nil); err != nil {
		t.Errorf("empty labels: %v", err)
	}
	if err := ValidateLabels([]byte{0x00, 0x01}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("binary labels: %v", err)
	}
}

func tarBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("<annotation/>")
	if err := tw.WriteHeader(&tar.Header{Name: "a.xml", Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	tw.Write(body)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestValidateArchive(t *testing.T) {
	tarDoc := tarBytes(t)
	gz := []byte{0x1f, 0x8b, 0x08, 0x00}
	xzDoc := xzBytes(t, string(tarDoc))

	tests := []struct {
		name     string
		data     []byte
		filename string
		want     FileType
		wantErr  bool
	}{
		{"tar", tarDoc, "voc.tar", FileTypeTar, false},
		{"tar.gz", gz, "voc.tar.gz", FileTypeGzip, false},
		{"tgz", gz, "VOC.TGZ", FileTypeGzip, false},
		{"tar.xz", xzDoc, "voc.tar.xz", FileTypeXZ, false},
		{"gzip named xz", gz, "voc.tar.xz", FileTypeUnknown, true},
		{"plain text named tar", []byte("hello"), "voc.tar", FileTypeUnknown, true},
		{"not a bundle name", tarDoc, "voc.zip", FileTypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateArchive(tt.data, tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateArchive error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsupportedType) {
				t.Errorf("error %v should wrap ErrUnsupportedType", err)
			}
			if got != tt.want {
				t.Errorf("ValidateArchive = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReadArchive(t *testing.T) {
	data, err := ReadArchive(bytes.NewReader([]byte("small")))
	if err != nil || string(data) != "small" {
		t.Errorf("ReadArchive = %q, %v", data, err)
	}
}
