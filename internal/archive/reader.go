// Package archive reads annotation bundles: tar archives, optionally gzip or
// xz compressed, that hold many annotation documents.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strings"

	"github.com/ulikunitz/xz"
)

// Format is the container layout of a bundle.
type Format int

const (
	FormatNone Format = iota
	FormatTar
	FormatTarGz
	FormatTarXz
)

func (f Format) String() string {
	switch f {
	case FormatTar:
		return "tar"
	case FormatTarGz:
		return "tar.gz"
	case FormatTarXz:
		return "tar.xz"
	default:
		return "none"
	}
}

var (
	// ErrEntryTooLarge is returned when a bundle entry exceeds the size limit.
	ErrEntryTooLarge = errors.New("archive entry too large")
	// ErrArchiveTooLarge is returned when matched entries together exceed
	// the total size limit.
	ErrArchiveTooLarge = errors.New("archive contents too large")
	// ErrTooManyEntries is returned when a bundle holds more matched
	// entries than allowed.
	ErrTooManyEntries = errors.New("too many archive entries")
)

// DetectFormat classifies a bundle by file name.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	default:
		return FormatNone
	}
}

// IsArchive reports whether name looks like a bundle.
func IsArchive(name string) bool {
	return DetectFormat(name) != FormatNone
}

// Reader wraps a tar.Reader with automatic decompression handling.
type Reader struct {
	*tar.Reader
	file         io.Closer
	decompressor io.Closer
}

// NewReader reads a bundle from r, choosing the decompressor from name.
func NewReader(name string, r io.Reader) (*Reader, error) {
	var reader io.Reader
	var decompressor io.Closer

	switch DetectFormat(name) {
	case FormatTarXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		reader = xzr
	case FormatTarGz:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		reader = gzr
		decompressor = gzr
	case FormatTar:
		reader = r
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", name)
	}

	return &Reader{
		Reader:       tar.NewReader(reader),
		decompressor: decompressor,
	}, nil
}

// Open opens the bundle at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// Close closes the archive reader and any underlying decompressors.
func (r *Reader) Close() error {
	var errs []error
	if r.decompressor != nil {
		if err := r.decompressor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Visitor is a callback function for iterating archive entries.
// Return true to stop iteration, false to continue.
type Visitor func(header *tar.Header, content io.Reader) (stop bool, err error)

// Iterate walks through all entries in the archive, calling the visitor for each.
func (r *Reader) Iterate(visitor Visitor) error {
	for {
		header, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}

		stop, err := visitor(header, r)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Entry is one regular file of a bundle.
type Entry struct {
	Name string
	Data []byte
}

// Limits bounds what ReadEntries will hold in memory. A zero field is
// unlimited.
type Limits struct {
	MaxEntrySize int64 // bytes per entry
	MaxTotalSize int64 // bytes across all matched entries
	MaxEntries   int   // matched entries
}

// ReadEntries loads every regular file accepted by match, in archive order.
// Hidden files such as macOS "._" companions are skipped and do not count
// against limits.
func (r *Reader) ReadEntries(match func(name string) bool, limits Limits) ([]Entry, error) {
	var entries []Entry
	var total int64
	err := r.Iterate(func(header *tar.Header, content io.Reader) (bool, error) {
		if header.Typeflag != tar.TypeReg {
			return false, nil
		}
		if strings.HasPrefix(path.Base(header.Name), ".") {
			return false, nil
		}
		if match != nil && !match(header.Name) {
			return false, nil
		}
		if limits.MaxEntries > 0 && len(entries) >= limits.MaxEntries {
			return false, fmt.Errorf("%w: more than %d", ErrTooManyEntries, limits.MaxEntries)
		}
		maxSize := limits.MaxEntrySize
		if maxSize <= 0 {
			maxSize = math.MaxInt64 - 1
		}
		if limits.MaxTotalSize > 0 {
			if remaining := limits.MaxTotalSize - total; remaining < maxSize {
				maxSize = remaining
			}
		}
		if header.Size > maxSize {
			return false, sizeError(limits, header.Name, header.Size, total)
		}
		data, err := io.ReadAll(io.LimitReader(content, maxSize+1))
		if err != nil {
			return false, fmt.Errorf("read %s: %w", header.Name, err)
		}
		if int64(len(data)) > maxSize {
			return false, sizeError(limits, header.Name, int64(len(data)), total)
		}
		total += int64(len(data))
		entries = append(entries, Entry{Name: header.Name, Data: data})
		return false, nil
	})
	return entries, err
}

func sizeError(limits Limits, name string, size, total int64) error {
	if limits.MaxEntrySize > 0 && size > limits.MaxEntrySize {
		return fmt.Errorf("%w: %s is over %d bytes", ErrEntryTooLarge, name, limits.MaxEntrySize)
	}
	return fmt.Errorf("%w: %s would bring the total past %d bytes (read %d)", ErrArchiveTooLarge, name, limits.MaxTotalSize, total)
}

// HasSuffixFold returns a match func accepting names ending in ext,
// ignoring case. An empty ext accepts every name.
func HasSuffixFold(ext string) func(string) bool {
	if ext == "" {
		return nil
	}
	suffix := strings.ToLower("." + strings.TrimPrefix(ext, "."))
	return func(name string) bool {
		return strings.HasSuffix(strings.ToLower(name), suffix)
	}
}
