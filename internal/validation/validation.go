// Package validation checks uploaded annotation and label files before they
// reach the converter.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

// Upload limits.
const (
	// MaxFileSize is the maximum size of one uploaded document (16 MB).
	MaxFileSize = 16 << 20
	// MaxUploadSize bounds a whole multipart request (256 MB).
	MaxUploadSize = 256 << 20
	// MaxArchiveSize is the maximum size of one uploaded bundle (128 MB).
	MaxArchiveSize = 128 << 20
	// MaxFiles bounds the number of documents in one request.
	MaxFiles = 10000
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
)

// Common validation errors.
var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrFilenameTooLong = errors.New("filename too long")
	ErrFileTooLarge    = errors.New("file too large")
	ErrTooManyFiles    = errors.New("too many files")
	ErrNoFiles         = errors.New("no files")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// ValidateFilename checks if a filename is safe and does not contain malicious characters.
// It rejects filenames with path separators, control characters, and dangerous patterns.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// ValidateFileCount rejects an empty batch or one above MaxFiles.
func ValidateFileCount(n int) error {
	if n == 0 {
		return ErrNoFiles
	}
	if n > MaxFiles {
		return fmt.Errorf("%w: %d files, limit %d", ErrTooManyFiles, n, MaxFiles)
	}
	return nil
}

// ReadLimited reads r fully, failing with ErrFileTooLarge past MaxFileSize.
func ReadLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, MaxFileSize)
	}
	return data, nil
}

// FileType represents a validated file type.
type FileType string

const (
	FileTypeXML     FileType = "xml"
	FileTypeXZ      FileType = "xz"
	FileTypeGzip    FileType = "gzip"
	FileTypeTar     FileType = "tar"
	FileTypeText    FileType = "text"
	FileTypeUnknown FileType = "unknown"
)

var (
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	gzipMagic = []byte{0x1f, 0x8b}
	tarMagic  = []byte("ustar")
)

// DetectFileType classifies the first bytes of an upload.
func DetectFileType(head []byte) FileType {
	switch {
	case bytes.HasPrefix(head, xzMagic):
		return FileTypeXZ
	case bytes.HasPrefix(head, gzipMagic):
		return FileTypeGzip
	case len(head) >= 262 && bytes.Equal(head[257:262], tarMagic):
		return FileTypeTar
	case !isLikelyText(head):
		return FileTypeUnknown
	case bytes.HasPrefix(bytes.TrimLeft(head, "\xef\xbb\xbf \t\r\n"), []byte("<")):
		return FileTypeXML
	default:
		return FileTypeText
	}
}

// ValidateAnnotation checks that an uploaded annotation is XML, or xz when
// its name ends in ".xz", and that the extension agrees with the content.
func ValidateAnnotation(data []byte, filename string) (FileType, error) {
	detected := DetectFileType(head(data))
	compressed := strings.EqualFold(filepath.Ext(filename), ".xz")

	switch {
	case compressed && detected == FileTypeXZ:
		return FileTypeXZ, nil
	case compressed:
		return FileTypeUnknown, fmt.Errorf("%w: %s is not xz compressed", ErrUnsupportedType, filename)
	case detected == FileTypeXML:
		return FileTypeXML, nil
	case detected == FileTypeXZ:
		return FileTypeUnknown, fmt.Errorf("%w: %s is xz compressed but lacks the .xz suffix", ErrUnsupportedType, filename)
	default:
		return FileTypeUnknown, fmt.Errorf("%w: %s does not look like XML", ErrUnsupportedType, filename)
	}
}

// ValidateArchive checks that a bundle's content matches its compression
// suffix: gzip for .tar.gz and .tgz, xz for .tar.xz and .txz, a plain tar
// header otherwise.
func ValidateArchive(data []byte, filename string) (FileType, error) {
	lower := strings.ToLower(filename)
	detected := DetectFileType(head(data))

	var want FileType
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		want = FileTypeGzip
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		want = FileTypeXZ
	case strings.HasSuffix(lower, ".tar"):
		want = FileTypeTar
	default:
		return FileTypeUnknown, fmt.Errorf("%w: %s is not a tar bundle", ErrUnsupportedType, filename)
	}
	if detected != want {
		return FileTypeUnknown, fmt.Errorf("%w: %s is not %s data", ErrUnsupportedType, filename, want)
	}
	return detected, nil
}

// ReadArchive reads r fully, failing with ErrFileTooLarge past MaxArchiveSize.
func ReadArchive(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxArchiveSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxArchiveSize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, MaxArchiveSize)
	}
	return data, nil
}

// ValidateLabels checks that a label list is plain text.
func ValidateLabels(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if t := DetectFileType(head(data)); t != FileTypeText && t != FileTypeXML {
		return fmt.Errorf("%w: label list must be text", ErrUnsupportedType)
	}
	return nil
}

func head(data []byte) []byte {
	if len(data) > 512 {
		return data[:512]
	}
	return data
}

// isLikelyText reports whether buf is mostly printable, with no NUL bytes.
// UTF-8 multibyte sequences count as neutral.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if bytes.IndexByte(buf, 0) != -1 {
		return false
	}

	printable, control := 0, 0
	for _, b := range buf {
		if b >= 0x20 && b <= 0x7e || b == '\t' || b == '\n' || b == '\r' {
			printable++
		} else if b < 0x20 {
			control++
		}
	}
	return printable > 0 && float64(printable)/float64(printable+control) > 0.95
}
