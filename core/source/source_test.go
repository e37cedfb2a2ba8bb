package source

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/internal/archive"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func compress(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatalf("xz write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	return buf.Bytes()
}

func readAll(t *testing.T, s Source) string {
	t.Helper()
	rc, err := s.Open()
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", s.Name(), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", s.Name(), err)
	}
	return string(data)
}

func names(sources []Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.Name()
	}
	return out
}

func TestFromIDList(t *testing.T) {
	dir := t.TempDir()
	ids := filepath.Join(dir, "ids.txt")
	writeFile(t, ids, "0001\n0002  0003\n")

	tests := []struct {
		ext  string
		want []string
	}{
		{"xml", []string{"0001.xml", "0002.xml", "0003.xml"}},
		{".xml", []string{"0001.xml", "0002.xml", "0003.xml"}},
		{"", []string{"0001", "0002", "0003"}},
	}

	for _, tt := range tests {
		t.Run("ext="+tt.ext, func(t *testing.T) {
			sources, err := FromIDList("/ann", ids, tt.ext)
			if err != nil {
				t.Fatalf("FromIDList failed: %v", err)
			}
			got := names(sources)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if want := filepath.Join("/ann", tt.want[i]); got[i] != want {
					t.Errorf("source %d = %q, want %q", i, got[i], want)
				}
			}
		})
	}
}

func TestFromPathList(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "paths.txt")
	writeFile(t, list, "/a/1.xml\n\n/b/2.xml\n")

	sources, err := FromPathList(list)
	if err != nil {
		t.Fatalf("FromPathList failed: %v", err)
	}
	got := names(sources)
	if len(got) != 2 || got[0] != "/a/1.xml" || got[1] != "/b/2.xml" {
		t.Errorf("got %v", got)
	}

	if _, err := FromPathList(filepath.Join(dir, "missing.txt")); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing list error = %v, want ErrNotFound", err)
	}
}

func TestFromDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.xml"), "<b/>")
	writeFile(t, filepath.Join(dir, "a.xml"), "<a/>")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	if err := os.Mkdir(filepath.Join(dir, "sub.xml"), 0755); err != nil {
		t.Fatal(err)
	}

	sources, err := FromDir(dir, "xml")
	if err != nil {
		t.Fatalf("FromDir failed: %v", err)
	}
	got := names(sources)
	want := []string{filepath.Join(dir, "a.xml"), filepath.Join(dir, "b.xml")}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSelectPrecedence(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "paths.txt")
	ids := filepath.Join(dir, "ids.txt")
	writeFile(t, list, "/explicit.xml")
	writeFile(t, ids, "7")

	sources, err := Select(Selection{PathList: list, Dir: dir, IDList: ids, Ext: "xml"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got := names(sources); len(got) != 1 || got[0] != "/explicit.xml" {
		t.Errorf("path list should win, got %v", got)
	}

	sources, err = Select(Selection{Dir: dir, IDList: ids, Ext: "xml"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got := names(sources); len(got) != 1 || got[0] != filepath.Join(dir, "7.xml") {
		t.Errorf("id list selection = %v", got)
	}

	if _, err := Select(Selection{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("empty selection error = %v, want ErrInvalidInput", err)
	}
	if _, err := Select(Selection{IDList: ids}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("id list without dir error = %v, want ErrInvalidInput", err)
	}
}

func TestFileOpen(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "1.xml")
	packed := filepath.Join(dir, "2.xml.xz")
	writeFile(t, plain, "<annotation/>")
	if err := os.WriteFile(packed, compress(t, "<annotation>xz</annotation>"), 0644); err != nil {
		t.Fatal(err)
	}

	if got := readAll(t, File{Path: plain}); got != "<annotation/>" {
		t.Errorf("plain = %q", got)
	}
	if got := readAll(t, File{Path: packed}); got != "<annotation>xz</annotation>" {
		t.Errorf("xz = %q", got)
	}

	_, err := File{Path: filepath.Join(dir, "missing.xml")}.Open()
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing file error = %v, want ErrNotFound", err)
	}
}

func TestBuffers(t *testing.T) {
	sources := FromBuffers(
		Buffer{Filename: "a.xml", Data: []byte("<a/>")},
		Buffer{Filename: "b.xml.xz", Data: compress(t, "<b/>")},
	)
	if got := readAll(t, sources[0]); got != "<a/>" {
		t.Errorf("buffer a = %q", got)
	}
	if got := readAll(t, sources[1]); got != "<b/>" {
		t.Errorf("buffer b = %q", got)
	}

	bad := Buffer{Filename: "c.xml.xz", Data: []byte("not xz")}
	if _, err := bad.Open(); err == nil {
		t.Error("expected error for corrupt xz upload")
	}
}

// tarGz packs name/body pairs into a gzip compressed tar stream.
func tarGz(t *testing.T, files ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for i := 0; i+1 < len(files); i += 2 {
		body := []byte(files[i+1])
		if err := tw.WriteHeader(&tar.Header{Name: files[i], Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		tw.Write(body)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestFromArchive(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "voc.tar.gz")
	data := tarGz(t,
		"voc/img_010.xml", "<annotation>10</annotation>",
		"voc/labels.txt", "cat dog",
		"voc/img_002.xml", "<annotation>2</annotation>",
	)
	if err := os.WriteFile(bundle, data, 0644); err != nil {
		t.Fatal(err)
	}

	sources, err := Select(Selection{Archive: bundle, Dir: dir, Ext: "xml"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	got := names(sources)
	want := []string{bundle + ":voc/img_010.xml", bundle + ":voc/img_002.xml"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
	if body := readAll(t, sources[1]); body != "<annotation>2</annotation>" {
		t.Errorf("entry body = %q", body)
	}
}

func TestFromArchiveErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := FromArchive(filepath.Join(dir, "missing.tar.gz"), "xml"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing archive error = %v, want ErrNotFound", err)
	}
	if _, err := FromArchiveReader("voc.zip", bytes.NewReader(nil), "xml", ArchiveLimits); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("unsupported format error = %v, want ErrInvalidInput", err)
	}
	_, err := FromArchiveReader("voc.tar.gz", bytes.NewReader([]byte("plain text")), "xml", ArchiveLimits)
	var ioErr *errors.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("corrupt archive error = %v, want IOError", err)
	}
}

func TestFromArchiveReaderLimits(t *testing.T) {
	data := tarGz(t,
		"voc/a.xml", "<annotation>a</annotation>",
		"voc/b.xml", "<annotation>b</annotation>",
	)

	tests := []struct {
		name   string
		limits archive.Limits
		want   error
	}{
		{"entry count", archive.Limits{MaxEntries: 1}, archive.ErrTooManyEntries},
		{"total bytes", archive.Limits{MaxTotalSize: 30}, archive.ErrArchiveTooLarge},
		{"entry bytes", archive.Limits{MaxEntrySize: 10}, archive.ErrEntryTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromArchiveReader("voc.tar.gz", bytes.NewReader(data), "xml", tt.limits)
			var ioErr *errors.IOError
			if !errors.As(err, &ioErr) {
				t.Fatalf("error = %v, want IOError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	sources, err := FromArchiveReader("voc.tar.gz", bytes.NewReader(data), "xml", archive.Limits{MaxEntries: 2, MaxTotalSize: 52})
	if err != nil {
		t.Fatalf("within limits: %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("got %d sources, want 2", len(sources))
	}
}
