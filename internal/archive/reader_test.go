package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

type file struct {
	name string
	body string
	dir  bool
}

// buildBundle writes files into a tar stream compressed according to format.
func buildBundle(t *testing.T, format Format, files ...file) []byte {
	t.Helper()

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0644, Size: int64(len(f.body)), Typeflag: tar.TypeReg}
		if f.dir {
			hdr = &tar.Header{Name: f.name, Mode: 0755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if !f.dir {
			if _, err := tw.Write([]byte(f.body)); err != nil {
				t.Fatalf("Write: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}

	switch format {
	case FormatTarGz:
		var out bytes.Buffer
		gw := gzip.NewWriter(&out)
		gw.Write(raw.Bytes())
		gw.Close()
		return out.Bytes()
	case FormatTarXz:
		var out bytes.Buffer
		xw, err := xz.NewWriter(&out)
		if err != nil {
			t.Fatalf("xz.NewWriter: %v", err)
		}
		xw.Write(raw.Bytes())
		xw.Close()
		return out.Bytes()
	default:
		return raw.Bytes()
	}
}

var bundleFiles = []file{
	{name: "ann/", dir: true},
	{name: "ann/img_002.xml", body: "<annotation/>"},
	{name: "ann/img_001.xml", body: "<annotation></annotation>"},
	{name: "ann/._img_001.xml", body: "junk"},
	{name: "ann/README.txt", body: "notes"},
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"voc.tar.gz", FormatTarGz},
		{"VOC.TGZ", FormatTarGz},
		{"voc.tar.xz", FormatTarXz},
		{"voc.txz", FormatTarXz},
		{"voc.tar", FormatTar},
		{"img_001.xml", FormatNone},
		{"img_001.xml.xz", FormatNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.name); got != tt.want {
				t.Errorf("DetectFormat(%q) = %v, want %v", tt.name, got, tt.want)
			}
			if IsArchive(tt.name) != (tt.want != FormatNone) {
				t.Errorf("IsArchive(%q) disagrees with DetectFormat", tt.name)
			}
		})
	}
}

func TestReadEntries(t *testing.T) {
	for _, format := range []Format{FormatTar, FormatTarGz, FormatTarXz} {
		t.Run(format.String(), func(t *testing.T) {
			data := buildBundle(t, format, bundleFiles...)
			r, err := NewReader("voc."+format.String(), bytes.NewReader(data))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			defer r.Close()

			entries, err := r.ReadEntries(HasSuffixFold("xml"), Limits{MaxEntrySize: 1024})
			if err != nil {
				t.Fatalf("ReadEntries: %v", err)
			}
			if len(entries) != 2 {
				t.Fatalf("got %d entries, want 2", len(entries))
			}
			// Archive order is kept.
			if entries[0].Name != "ann/img_002.xml" || entries[1].Name != "ann/img_001.xml" {
				t.Errorf("entries = %s, %s", entries[0].Name, entries[1].Name)
			}
			if string(entries[1].Data) != "<annotation></annotation>" {
				t.Errorf("data = %q", entries[1].Data)
			}
		})
	}
}

func TestReadEntriesWithoutFilter(t *testing.T) {
	data := buildBundle(t, FormatTar, bundleFiles...)
	r, err := NewReader("voc.tar", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	entries, err := r.ReadEntries(HasSuffixFold(""), Limits{})
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
}

func TestReadEntriesTooLarge(t *testing.T) {
	data := buildBundle(t, FormatTarGz, file{name: "big.xml", body: "<annotation>0123456789</annotation>"})
	r, err := NewReader("voc.tar.gz", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if _, err := r.ReadEntries(nil, Limits{MaxEntrySize: 8}); !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("ReadEntries() = %v, want ErrEntryTooLarge", err)
	}
}

func TestReadEntriesLimits(t *testing.T) {
	files := []file{
		{name: "a.xml", body: "<annotation/>"},
		{name: "b.xml", body: "<annotation/>"},
		{name: "c.xml", body: "<annotation/>"},
		{name: "._c.xml", body: "ignored companion"},
	}
	each := int64(len("<annotation/>"))

	tests := []struct {
		name   string
		limits Limits
		want   error
		count  int
	}{
		{"unlimited", Limits{}, nil, 3},
		{"entry count exact", Limits{MaxEntries: 3}, nil, 3},
		{"entry count exceeded", Limits{MaxEntries: 2}, ErrTooManyEntries, 0},
		{"total exact", Limits{MaxTotalSize: 3 * each}, nil, 3},
		{"total exceeded", Limits{MaxEntrySize: each, MaxTotalSize: 3*each - 1}, ErrArchiveTooLarge, 0},
		{"entry checked before total", Limits{MaxEntrySize: each - 1, MaxTotalSize: 100 * each}, ErrEntryTooLarge, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader("voc.tar.gz", bytes.NewReader(buildBundle(t, FormatTarGz, files...)))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			defer r.Close()

			entries, err := r.ReadEntries(HasSuffixFold("xml"), tt.limits)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("ReadEntries() = %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadEntries: %v", err)
			}
			if len(entries) != tt.count {
				t.Errorf("got %d entries, want %d", len(entries), tt.count)
			}
		})
	}
}

func TestNewReaderErrors(t *testing.T) {
	if _, err := NewReader("voc.zip", bytes.NewReader(nil)); err == nil {
		t.Error("expected an error for an unsupported format")
	}
	if _, err := NewReader("voc.tar.gz", bytes.NewReader([]byte("not gzip"))); err == nil {
		t.Error("expected an error for corrupted gzip")
	}
	if _, err := NewReader("voc.tar.xz", bytes.NewReader([]byte("not xz"))); err == nil {
		t.Error("expected an error for corrupted xz")
	}
}

func TestCorruptedTar(t *testing.T) {
	r, err := NewReader("voc.tar", bytes.NewReader(bytes.Repeat([]byte{'x'}, 600)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r.ReadEntries(nil, Limits{MaxEntrySize: 1024}); err == nil {
		t.Error("expected an error for a corrupted tar stream")
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voc.tar.xz")
	if err := os.WriteFile(path, buildBundle(t, FormatTarXz, bundleFiles...), 0600); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var names []string
	err = r.Iterate(func(h *tar.Header, _ io.Reader) (bool, error) {
		names = append(names, h.Name)
		return len(names) == 2, nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("visitor should stop after two entries, saw %v", names)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.tar")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) = %v, want ErrNotExist", err)
	}
}
