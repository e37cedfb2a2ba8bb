// Package sink serializes the aggregate document and writes it to disk.
package sink

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/voc2coco/core/coco"
	"github.com/FocuswithJustin/voc2coco/core/errors"
)

// Digest identifies the serialized JSON, before any compression.
type Digest struct {
	BLAKE3 string `json:"blake3"`
	Size   int64  `json:"size"`
}

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	h := blake3.Sum256(data)
	return Digest{BLAKE3: hex.EncodeToString(h[:]), Size: int64(len(data))}
}

// Marshal renders doc as indented JSON with a trailing newline.
func Marshal(doc *coco.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes doc to w as indented JSON.
func Encode(w io.Writer, doc *coco.Document) error {
	if doc == nil {
		return errors.NewValidation("document", "nil document")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

// WriteFile writes doc to path through a temp file in the same directory,
// so readers never observe a partial file. A ".xz" suffix compresses the
// output; the returned digest always covers the plain JSON.
func WriteFile(path string, doc *coco.Document) (Digest, error) {
	data, err := Marshal(doc)
	if err != nil {
		return Digest{}, err
	}
	digest := Sum(data)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Digest{}, errors.NewIO("create directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".voc2coco-*")
	if err != nil {
		return Digest{}, errors.NewIO("create temp file in", dir, err)
	}
	tmpPath := tmp.Name()

	if err := writePayload(tmp, data, strings.HasSuffix(path, ".xz")); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Digest{}, errors.NewIO("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Digest{}, errors.NewIO("close", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return Digest{}, errors.NewIO("chmod", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return Digest{}, errors.NewIO("rename", path, err)
	}
	return digest, nil
}

func writePayload(w io.Writer, data []byte, compress bool) error {
	if !compress {
		_, err := w.Write(data)
		return err
	}
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("xz writer: %w", err)
	}
	if _, err := xw.Write(data); err != nil {
		xw.Close()
		return err
	}
	return xw.Close()
}
