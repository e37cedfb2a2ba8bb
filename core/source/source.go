// Package source supplies annotation documents to the converter from an
// explicit path list, a directory plus id list, a tar bundle, or in-memory
// uploads.
package source

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/internal/archive"
)

// MaxEntrySize bounds one document read out of a bundle.
const MaxEntrySize = 16 << 20

// ArchiveLimits applies to bundles opened from disk. Uploads pass their own
// budget to FromArchiveReader.
var ArchiveLimits = archive.Limits{MaxEntrySize: MaxEntrySize}

// Source is one annotation document.
type Source interface {
	// Name identifies the document in error reports and progress events.
	Name() string
	// Open returns the (decompressed) document bytes.
	Open() (io.ReadCloser, error)
}

// File is an annotation document on disk. Paths ending in ".xz" are
// decompressed transparently.
type File struct {
	Path string
}

// Name returns the file path.
func (f File) Name() string { return f.Path }

// Open opens the file.
func (f File) Open() (io.ReadCloser, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "annotation file", ID: f.Path, Err: err}
		}
		return nil, errors.NewIO("open", f.Path, err)
	}
	if !isXZ(f.Path) {
		return fh, nil
	}
	xzr, err := xz.NewReader(fh)
	if err != nil {
		fh.Close()
		return nil, errors.NewIO("decompress", f.Path, err)
	}
	return readCloser{Reader: xzr, Closer: fh}, nil
}

// Buffer is an in-memory annotation document, typically an upload.
type Buffer struct {
	Filename string
	Data     []byte
}

// Name returns the upload file name.
func (b Buffer) Name() string { return b.Filename }

// Open returns a reader over the buffer.
func (b Buffer) Open() (io.ReadCloser, error) {
	if !isXZ(b.Filename) {
		return io.NopCloser(bytes.NewReader(b.Data)), nil
	}
	xzr, err := xz.NewReader(bytes.NewReader(b.Data))
	if err != nil {
		return nil, errors.NewIO("decompress", b.Filename, err)
	}
	return io.NopCloser(xzr), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func isXZ(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".xz")
}

// FromPathList reads whitespace separated full paths from listPath.
func FromPathList(listPath string) ([]Source, error) {
	fields, err := readFields(listPath)
	if err != nil {
		return nil, err
	}
	sources := make([]Source, len(fields))
	for i, p := range fields {
		sources[i] = File{Path: p}
	}
	return sources, nil
}

// FromIDList reads bare identifiers from idsPath and joins each with dir
// and ext. An empty ext appends no dot.
func FromIDList(dir, idsPath, ext string) ([]Source, error) {
	ids, err := readFields(idsPath)
	if err != nil {
		return nil, err
	}
	suffix := ""
	if ext != "" {
		suffix = "." + strings.TrimPrefix(ext, ".")
	}
	sources := make([]Source, len(ids))
	for i, id := range ids {
		sources[i] = File{Path: filepath.Join(dir, id+suffix)}
	}
	return sources, nil
}

// FromDir lists every file in dir whose name ends in ext, sorted by name.
func FromDir(dir, ext string) ([]Source, error) {
	suffix := ""
	if ext != "" {
		suffix = "." + strings.TrimPrefix(ext, ".")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "annotation directory", ID: dir, Err: err}
		}
		return nil, errors.NewIO("read", dir, err)
	}
	var sources []Source
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		sources = append(sources, File{Path: filepath.Join(dir, e.Name())})
	}
	return sources, nil
}

// FromBuffers wraps uploaded documents, preserving their order.
func FromBuffers(buffers ...Buffer) []Source {
	sources := make([]Source, len(buffers))
	for i, b := range buffers {
		sources[i] = b
	}
	return sources
}

// FromArchive lists every document in the bundle at path whose name ends in
// ext, in archive order.
func FromArchive(path, ext string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "annotation archive", ID: path, Err: err}
		}
		return nil, errors.NewIO("open", path, err)
	}
	defer f.Close()
	return FromArchiveReader(path, f, ext, ArchiveLimits)
}

// FromArchiveReader reads a bundle from r. name selects the compression and
// prefixes each document name as "name:entry". Breaking limits yields an
// IOError wrapping the archive package's sentinel.
func FromArchiveReader(name string, r io.Reader, ext string, limits archive.Limits) ([]Source, error) {
	if !archive.IsArchive(name) {
		return nil, errors.NewValidation("archive", "unsupported archive format: "+name)
	}
	ar, err := archive.NewReader(name, r)
	if err != nil {
		return nil, errors.NewIO("decompress", name, err)
	}
	defer ar.Close()

	entries, err := ar.ReadEntries(archive.HasSuffixFold(ext), limits)
	if err != nil {
		return nil, errors.NewIO("read", name, err)
	}
	buffers := make([]Buffer, len(entries))
	for i, e := range entries {
		buffers[i] = Buffer{Filename: name + ":" + e.Name, Data: e.Data}
	}
	return FromBuffers(buffers...), nil
}

func readFields(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "list file", ID: path, Err: err}
		}
		return nil, errors.NewIO("read", path, err)
	}
	return strings.Fields(string(data)), nil
}

// Selection describes the path based inputs of a run. The first populated
// option wins: PathList, then Archive, then Dir with IDList, then Dir alone.
type Selection struct {
	PathList string
	Archive  string
	Dir      string
	IDList   string
	Ext      string
}

// Select resolves the selection into an ordered source list.
func Select(sel Selection) ([]Source, error) {
	switch {
	case sel.PathList != "":
		return FromPathList(sel.PathList)
	case sel.Archive != "":
		return FromArchive(sel.Archive, sel.Ext)
	case sel.Dir != "" && sel.IDList != "":
		return FromIDList(sel.Dir, sel.IDList, sel.Ext)
	case sel.Dir != "":
		return FromDir(sel.Dir, sel.Ext)
	case sel.IDList != "":
		return nil, errors.NewValidation("ann-dir", "an id list needs an annotation directory")
	default:
		return nil, errors.NewValidation("input", "no annotation paths list, archive or directory given")
	}
}
