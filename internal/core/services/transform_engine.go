package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// TransformEngine assembles output PDFs from page ranges, images and
// attachments.
type TransformEngine struct {
	logger    *slog.Logger
	toolkit   ports.PDFToolkit
	converter ports.OfficeConverter // nil when no converter is configured
	blobs     ports.BlobStore
}

func NewTransformEngine(logger *slog.Logger, toolkit ports.PDFToolkit, converter ports.OfficeConverter, blobs ports.BlobStore) *TransformEngine {
	return &TransformEngine{
		logger:    logger,
		toolkit:   toolkit,
		converter: converter,
		blobs:     blobs,
	}
}

// loadedSource is a source ready for page copying.
type loadedSource struct {
	id        string
	path      string
	pageCount int
}

// sourceCache holds the last loaded source so consecutive parts of the same
// source skip conversion and page counting.
type sourceCache struct {
	slot *loadedSource
}

// Transform builds every document in order and uploads each under
// {job_id}-{doc_id}. Errors that doom the job are *domain.JobError.
func (e *TransformEngine) Transform(ctx context.Context, jobID domain.JobID, docs []domain.Document, files []DownloadedFile, dir *ScratchDir) (domain.TransformResult, error) {
	sources := make(map[string]DownloadedFile, len(files))
	for _, f := range files {
		sources[f.SourceID] = f
	}

	cache := &sourceCache{}
	results := make(domain.TransformResult, 0, len(docs))
	for _, doc := range docs {
		data, err := e.buildDocument(ctx, doc, sources, cache, dir)
		if err != nil {
			return nil, err
		}

		key := fmt.Sprintf("%s-%s", jobID, doc.ID)
		url, err := e.blobs.Store(ctx, key, doc.ID+".pdf", domain.MimePDF, data)
		if err != nil {
			return nil, fmt.Errorf("failed to store document %s: %w", doc.ID, err)
		}
		results = append(results, domain.TransformDocumentResult{ID: doc.ID, DownloadURL: url})
		e.logger.Debug("document assembled", "job_id", jobID, "document_id", doc.ID, "bytes", len(data))
	}
	return results, nil
}

func (e *TransformEngine) buildDocument(ctx context.Context, doc domain.Document, sources map[string]DownloadedFile, cache *sourceCache, dir *ScratchDir) ([]byte, error) {
	if len(doc.Parts) == 0 {
		return nil, domain.NewJobError(domain.MsgEmptyDocument)
	}

	partFiles := make([]string, 0, len(doc.Parts))
	for _, part := range doc.Parts {
		src, ok := sources[part.SourceFile]
		if !ok {
			return nil, domain.NewJobError(domain.MsgSourceNotFound)
		}

		out := dir.Path()
		if domain.IsRasterImage(src.ContentType) {
			if err := e.toolkit.ImageToPDF(ctx, src.Path, out); err != nil {
				return nil, domain.WrapJobError(domain.MsgCreateFromImage, err)
			}
		} else {
			loaded, err := e.load(ctx, src, cache, dir)
			if err != nil {
				return nil, err
			}
			start, end, err := part.PageRange(loaded.pageCount)
			if err != nil {
				return nil, err
			}
			if err := e.toolkit.ExtractPages(ctx, loaded.path, out, start, end); err != nil {
				return nil, domain.WrapJobError(domain.MsgCopyPages, err)
			}
		}

		if deg := part.Degrees(); deg != 0 {
			if err := e.toolkit.Rotate(ctx, out, deg); err != nil {
				return nil, domain.WrapJobError(domain.MsgRotatePages, err)
			}
		}
		partFiles = append(partFiles, out)
	}

	target := dir.Path()
	if err := e.toolkit.Merge(ctx, partFiles, target); err != nil {
		return nil, domain.WrapJobError(domain.MsgCopyPages, err)
	}

	if len(doc.Attachments) > 0 {
		if err := e.attach(ctx, target, doc.Attachments, sources, dir); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read assembled document: %w", err)
	}
	return data, nil
}

// load returns the source as a PDF with a known page count, converting office
// documents first when a converter is available.
func (e *TransformEngine) load(ctx context.Context, src DownloadedFile, cache *sourceCache, dir *ScratchDir) (*loadedSource, error) {
	if cache.slot != nil && cache.slot.id == src.SourceID {
		return cache.slot, nil
	}

	path := src.Path
	if !domain.IsPDF(src.ContentType) && e.converter != nil {
		outDir, err := dir.Dir()
		if err != nil {
			return nil, err
		}
		converted, err := e.converter.ConvertToPDF(ctx, src.Path, outDir)
		if err != nil {
			return nil, classifyConversionError(ctx, err)
		}
		path = converted
	}

	count, err := e.toolkit.PageCount(ctx, path)
	if err != nil {
		return nil, domain.WrapJobError(domain.MsgOpenDocument, err)
	}

	cache.slot = &loadedSource{id: src.SourceID, path: path, pageCount: count}
	return cache.slot, nil
}

func (e *TransformEngine) attach(ctx context.Context, target string, attachments []domain.Attachment, sources map[string]DownloadedFile, dir *ScratchDir) error {
	files := make([]string, 0, len(attachments))
	for _, att := range attachments {
		src, ok := sources[att.SourceFile]
		if !ok {
			return domain.NewJobError(domain.MsgSourceNotFound)
		}

		// The toolkit attaches files under their base name, so each copy
		// gets its own directory named after the attachment.
		holder, err := dir.Dir()
		if err != nil {
			return err
		}
		name := filepath.Base(att.Name)
		if name == "." || name == ".." || name == string(filepath.Separator) {
			return domain.NewJobError(domain.MsgAddAttachment)
		}
		dst := filepath.Join(holder, name)
		if err := copyFile(src.Path, dst); err != nil {
			return err
		}
		files = append(files, dst)
	}

	if err := e.toolkit.Attach(ctx, target, files); err != nil {
		return domain.WrapJobError(domain.MsgAddAttachment, err)
	}
	return nil
}

// classifyConversionError separates the converter's own deadline from the
// worker shutting down. Only the former is the job's fault.
func classifyConversionError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapJobError(domain.MsgConversionTimeout, err)
	}
	return domain.WrapJobError(domain.MsgConversionFailed, err)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
