package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// PreviewEngine renders page images and inspects a single source document.
type PreviewEngine struct {
	logger    *slog.Logger
	inspector ports.PDFInspector
	converter ports.OfficeConverter // nil when no converter is configured
	blobs     ports.BlobStore
}

func NewPreviewEngine(logger *slog.Logger, inspector ports.PDFInspector, converter ports.OfficeConverter, blobs ports.BlobStore) *PreviewEngine {
	return &PreviewEngine{
		logger:    logger,
		inspector: inspector,
		converter: converter,
		blobs:     blobs,
	}
}

// Preview produces the outputs selected by the job's flags. Pages are
// rendered one at a time to keep peak memory bounded.
func (e *PreviewEngine) Preview(ctx context.Context, jobID domain.JobID, input domain.PreviewInput, source []byte, contentType string, dir *ScratchDir) (*domain.PreviewResult, error) {
	data, err := e.asPDF(ctx, source, contentType, dir)
	if err != nil {
		return nil, err
	}

	docDir, err := dir.Dir()
	if err != nil {
		return nil, err
	}
	doc, err := e.inspector.Open(ctx, data, docDir)
	if err != nil {
		return nil, domain.WrapJobError(domain.MsgOpenDocument, err)
	}
	defer doc.Close()

	result := &domain.PreviewResult{PageCount: doc.PageCount()}

	start, end, err := domain.PageWindow(input.StartPage, input.EndPage, result.PageCount)
	if err != nil {
		return nil, err
	}

	if input.WantsPNG() || input.WantsText() {
		result.Pages = make([]domain.PreviewPage, 0, end-start+1)
		for page := start; page <= end; page++ {
			p, err := e.page(ctx, jobID, doc, page, input)
			if err != nil {
				return nil, err
			}
			result.Pages = append(result.Pages, p)
		}
	}

	if input.WantsAttachments() {
		files, err := doc.Attachments()
		if err != nil {
			return nil, domain.WrapJobError(domain.MsgReadAttachments, err)
		}
		result.Attachments = make([]domain.PreviewAttachment, 0, len(files))
		for _, f := range files {
			contentType, _ := domain.MimeFromName(f.Name)
			url, err := e.blobs.Store(ctx, fmt.Sprintf("%s-%s", jobID, f.Name), f.Name, contentType, f.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to store attachment %s: %w", f.Name, err)
			}
			result.Attachments = append(result.Attachments, domain.PreviewAttachment{Name: f.Name, DownloadURL: url})
		}
	}

	if input.WantsSignatures() {
		sigs, err := doc.Signatures()
		if err != nil {
			return nil, domain.WrapJobError(domain.MsgReadSignatures, err)
		}
		result.Signatures = append(make([]domain.PreviewSignature, 0, len(sigs)), sigs...)
	}

	protected, err := doc.Protected()
	if err != nil {
		e.logger.Warn("permission query failed, assuming unprotected", "job_id", jobID, "error", err)
		protected = false
	}
	result.Protected = protected

	if input.WantsPDF() {
		saved, err := doc.Save()
		if err != nil {
			return nil, domain.WrapJobError(domain.MsgSaveDocument, err)
		}
		url, err := e.blobs.Store(ctx, string(jobID), string(jobID)+".pdf", domain.MimePDF, saved)
		if err != nil {
			return nil, fmt.Errorf("failed to store document: %w", err)
		}
		result.PDF = &url
	}

	return result, nil
}

func (e *PreviewEngine) page(ctx context.Context, jobID domain.JobID, doc ports.PDFDocument, page int, input domain.PreviewInput) (domain.PreviewPage, error) {
	var p domain.PreviewPage

	if input.WantsPNG() {
		img, err := doc.RenderPNG(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return p, err
			}
			return p, domain.WrapJobError(domain.MsgRenderPage, err)
		}
		url, err := e.blobs.Store(ctx, fmt.Sprintf("%s-%d", jobID, page), fmt.Sprintf("%d.png", page), domain.MimePNG, img)
		if err != nil {
			return p, fmt.Errorf("failed to store page %d: %w", page, err)
		}
		p.DownloadURL = &url
	}

	if input.WantsText() {
		text, err := doc.Text(page)
		if err != nil {
			return p, domain.WrapJobError(domain.MsgExtractText, err)
		}
		p.Text = &text
	}
	return p, nil
}

// asPDF converts non-PDF sources when a converter is available; otherwise the
// bytes are handed to the inspector as they are.
func (e *PreviewEngine) asPDF(ctx context.Context, source []byte, contentType string, dir *ScratchDir) ([]byte, error) {
	if domain.IsPDF(contentType) || e.converter == nil {
		return source, nil
	}

	inDir, err := dir.Dir()
	if err != nil {
		return nil, err
	}
	in := filepath.Join(inDir, "source")
	if err := os.WriteFile(in, source, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write source: %w", err)
	}
	outDir, err := dir.Dir()
	if err != nil {
		return nil, err
	}

	out, err := e.converter.ConvertToPDF(ctx, in, outDir)
	if err != nil {
		return nil, classifyConversionError(ctx, err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted document: %w", err)
	}
	return data, nil
}
