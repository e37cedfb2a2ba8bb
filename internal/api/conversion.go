package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/voc2coco/core/convert"
	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/core/labels"
	"github.com/FocuswithJustin/voc2coco/core/source"
	"github.com/FocuswithJustin/voc2coco/internal/archive"
	"github.com/FocuswithJustin/voc2coco/internal/logging"
	"github.com/FocuswithJustin/voc2coco/internal/server"
	"github.com/FocuswithJustin/voc2coco/internal/sink"
	"github.com/FocuswithJustin/voc2coco/internal/validation"
)

const (
	// multipartMemory is how much of a form ParseMultipartForm keeps in memory.
	multipartMemory = 32 << 20
	// maxWarningEntries caps the X-Conversion-Warnings header.
	maxWarningEntries = 20
	// resultFilename is the attachment name of a converted document.
	resultFilename = "output_coco.json"
)

// conversionRequest is a validated upload batch.
type conversionRequest struct {
	Registry         *labels.Registry
	Sources          []source.Source
	ExtractNumericID bool
	Policy           convert.Policy
}

// conversionResult is a finished run with its serialized document.
type conversionResult struct {
	Report *convert.Report
	Data   []byte
	Digest sink.Digest
}

// Warning describes one skipped document.
type Warning struct {
	Source  string `json:"source"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestError is a form problem reported back with its own status.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(code, format string, args ...any) *requestError {
	return &requestError{status: http.StatusBadRequest, code: code, message: fmt.Sprintf(format, args...)}
}

// parseConversionForm reads the multipart fields shared by /convert and /jobs:
// labels, files, extract_numeric_id and keep_going.
func parseConversionForm(w http.ResponseWriter, r *http.Request) (*conversionRequest, error) {
	if !server.ValidateContentType(r.Header.Get("Content-Type"), []string{"multipart/form-data"}) {
		return nil, &requestError{
			status:  http.StatusUnsupportedMediaType,
			code:    "UNSUPPORTED_MEDIA_TYPE",
			message: "expected multipart/form-data",
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, badRequest("INVALID_REQUEST", "Failed to parse multipart form or upload too large")
	}

	text, ok, err := labelsFromForm(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, badRequest("MISSING_LABELS", "labels field is required")
	}

	headers := r.MultipartForm.File["files"]
	if err := validation.ValidateFileCount(len(headers)); err != nil {
		return nil, fileCountError(err)
	}
	sources := make([]source.Source, 0, len(headers))
	var expanded int64
	for _, fh := range headers {
		if archive.IsArchive(fh.Filename) {
			budget := archive.Limits{
				MaxEntrySize: validation.MaxFileSize,
				MaxTotalSize: validation.MaxUploadSize - expanded,
				MaxEntries:   validation.MaxFiles - len(sources),
			}
			if budget.MaxEntries <= 0 {
				return nil, badRequest("TOO_MANY_FILES", "%s: limit of %d files reached", fh.Filename, validation.MaxFiles)
			}
			if budget.MaxTotalSize <= 0 {
				return nil, badRequest("FILE_TOO_LARGE", "%s: upload budget of %d bytes spent", fh.Filename, validation.MaxUploadSize)
			}
			bufs, err := readArchiveUpload(fh, budget)
			if err != nil {
				return nil, err
			}
			for _, b := range bufs {
				expanded += int64(len(b.Data))
			}
			sources = append(sources, source.FromBuffers(bufs...)...)
			continue
		}
		buf, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		expanded += int64(len(buf.Data))
		sources = append(sources, buf)
	}
	if err := validation.ValidateFileCount(len(sources)); err != nil {
		return nil, fileCountError(err)
	}

	extract, err := formBool(r, "extract_numeric_id", true)
	if err != nil {
		return nil, err
	}
	keepGoing, err := formBool(r, "keep_going", false)
	if err != nil {
		return nil, err
	}
	policy := convert.StopOnFirstError
	if keepGoing {
		policy = convert.CollectAndContinue
	}

	return &conversionRequest{
		Registry:         labels.Parse(text),
		Sources:          sources,
		ExtractNumericID: extract,
		Policy:           policy,
	}, nil
}

// labelsFromForm returns the label list from a "labels" file part, falling
// back to a plain field. ok is false when neither is present.
func labelsFromForm(r *http.Request) (text string, ok bool, err error) {
	f, _, err := r.FormFile("labels")
	switch {
	case err == nil:
		defer f.Close()
		data, err := validation.ReadLimited(f)
		if err != nil {
			return "", false, badRequest("FILE_TOO_LARGE", "labels: %v", err)
		}
		if err := validation.ValidateLabels(data); err != nil {
			return "", false, badRequest("INVALID_FILE_TYPE", "labels: %v", err)
		}
		return string(data), true, nil
	case errors.Is(err, http.ErrMissingFile):
		if r.MultipartForm == nil {
			return "", false, nil
		}
		values, found := r.MultipartForm.Value["labels"]
		return strings.Join(values, "\n"), found, nil
	default:
		return "", false, badRequest("INVALID_REQUEST", "labels: %v", err)
	}
}

// readUpload validates one uploaded annotation and loads it into memory.
func readUpload(fh *multipart.FileHeader) (source.Buffer, error) {
	if err := validation.ValidateFilename(fh.Filename); err != nil {
		return source.Buffer{}, badRequest("INVALID_FILENAME", "%q: %v", fh.Filename, err)
	}
	if fh.Size > validation.MaxFileSize {
		return source.Buffer{}, badRequest("FILE_TOO_LARGE", "%s exceeds maximum size limit", fh.Filename)
	}

	f, err := fh.Open()
	if err != nil {
		return source.Buffer{}, badRequest("INVALID_REQUEST", "%s: %v", fh.Filename, err)
	}
	defer f.Close()

	data, err := validation.ReadLimited(f)
	if err != nil {
		return source.Buffer{}, badRequest("FILE_TOO_LARGE", "%s: %v", fh.Filename, err)
	}
	if _, err := validation.ValidateAnnotation(data, fh.Filename); err != nil {
		return source.Buffer{}, badRequest("INVALID_FILE_TYPE", "%v", err)
	}
	return source.Buffer{Filename: fh.Filename, Data: data}, nil
}

// readArchiveUpload expands an uploaded tar bundle into its *.xml documents,
// holding the expansion to budget.
func readArchiveUpload(fh *multipart.FileHeader, budget archive.Limits) ([]source.Buffer, error) {
	if err := validation.ValidateFilename(fh.Filename); err != nil {
		return nil, badRequest("INVALID_FILENAME", "%q: %v", fh.Filename, err)
	}
	if fh.Size > validation.MaxArchiveSize {
		return nil, badRequest("FILE_TOO_LARGE", "%s exceeds maximum archive size", fh.Filename)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, badRequest("INVALID_REQUEST", "%s: %v", fh.Filename, err)
	}
	defer f.Close()

	data, err := validation.ReadArchive(f)
	if err != nil {
		return nil, badRequest("FILE_TOO_LARGE", "%s: %v", fh.Filename, err)
	}
	if _, err := validation.ValidateArchive(data, fh.Filename); err != nil {
		return nil, badRequest("INVALID_FILE_TYPE", "%v", err)
	}

	sources, err := source.FromArchiveReader(fh.Filename, bytes.NewReader(data), "xml", budget)
	switch {
	case errors.Is(err, archive.ErrTooManyEntries):
		return nil, badRequest("TOO_MANY_FILES", "%v", err)
	case errors.Is(err, archive.ErrEntryTooLarge), errors.Is(err, archive.ErrArchiveTooLarge):
		return nil, badRequest("FILE_TOO_LARGE", "%v", err)
	case err != nil:
		return nil, badRequest("INVALID_ARCHIVE", "%v", err)
	}
	bufs := make([]source.Buffer, len(sources))
	for i, src := range sources {
		bufs[i] = src.(source.Buffer)
		if _, err := validation.ValidateAnnotation(bufs[i].Data, bufs[i].Filename); err != nil {
			return nil, badRequest("INVALID_FILE_TYPE", "%v", err)
		}
	}
	return bufs, nil
}

// fileCountError maps a ValidateFileCount failure to its response code.
func fileCountError(err error) error {
	if errors.Is(err, validation.ErrTooManyFiles) {
		return badRequest("TOO_MANY_FILES", "%v", err)
	}
	return badRequest("MISSING_FILES", "%v", err)
}

func formBool(r *http.Request, name string, def bool) (bool, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return def, nil
	}
	if v == "on" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("INVALID_PARAMETER", "%s must be a boolean, got %q", name, v)
	}
	return b, nil
}

// runConversion converts req, broadcasting one progress message per document.
// jobID is empty for synchronous requests.
func runConversion(ctx context.Context, req *conversionRequest, jobID string, observe convert.Observer) (*conversionResult, error) {
	start := time.Now()
	logging.ConversionStarted(ctx, len(req.Sources), req.Registry.Len(), req.Policy.String(), "job_id", jobID)

	conv := &convert.Converter{
		Registry:         req.Registry,
		ExtractNumericID: req.ExtractNumericID,
		Policy:           req.Policy,
		Workers:          ServerConfig.Workers,
		Observer: func(p convert.Progress) {
			switch {
			case p.Err == nil:
				logging.DocumentConverted(ctx, p.Source, p.Index, p.Annotations)
			case req.Policy == convert.CollectAndContinue:
				logging.DocumentSkipped(ctx, p.Source, errors.Code(p.Err), p.Err)
			}
			BroadcastDocument(jobID, p)
			if observe != nil {
				observe(p)
			}
		},
	}

	report, err := conv.Convert(ctx, req.Sources)
	if err != nil {
		logging.WarnContext(ctx, "conversion_failed", "error", err.Error(), "code", errors.Code(err),
			"validation", errors.IsValidation(err), "job_id", jobID)
		BroadcastError("convert", jobID, err.Error())
		return nil, err
	}

	data, err := sink.Marshal(report.Document)
	if err != nil {
		logging.ErrorContext(ctx, "failed to encode document", "error", err, "job_id", jobID)
		BroadcastError("convert", jobID, err.Error())
		return nil, err
	}
	digest := sink.Sum(data)

	doc := report.Document
	logging.ConversionFinished(ctx, len(doc.Images), len(doc.Annotations), len(report.Skipped), time.Since(start),
		"blake3", digest.BLAKE3, "job_id", jobID)
	BroadcastComplete("convert", jobID, "Conversion completed", map[string]interface{}{
		"images":      len(doc.Images),
		"annotations": len(doc.Annotations),
		"skipped":     len(report.Skipped),
		"digest":      digest.BLAKE3,
	})

	return &conversionResult{Report: report, Data: data, Digest: digest}, nil
}

func warningsFor(skipped []*convert.DocumentError) []Warning {
	out := make([]Warning, len(skipped))
	for i, s := range skipped {
		out[i] = Warning{Source: s.Source, Code: errors.Code(s.Err), Message: s.Err.Error()}
	}
	return out
}

// writeDocument sends the converted document as a download.
func writeDocument(w http.ResponseWriter, res *conversionResult) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Disposition", `attachment; filename="`+resultFilename+`"`)
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set("X-Content-Digest", "blake3="+res.Digest.BLAKE3)
	h.Set("X-Skipped-Documents", strconv.Itoa(len(res.Report.Skipped)))
	if len(res.Report.Skipped) > 0 {
		warnings := warningsFor(res.Report.Skipped)
		if len(warnings) > maxWarningEntries {
			warnings = warnings[:maxWarningEntries]
		}
		if encoded, err := json.Marshal(warnings); err == nil {
			h.Set("X-Conversion-Warnings", string(encoded))
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

func isDocumentError(err error) bool {
	var derr *convert.DocumentError
	return errors.As(err, &derr)
}
