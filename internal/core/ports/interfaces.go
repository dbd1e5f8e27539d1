package ports

import (
	"context"

	"github.com/manthysbr/pdfmill/internal/core/domain"
)

// JobStore abstracts the authoritative job records (NATS KV, DuckDB, memory).
type JobStore interface {
	// Put upserts the full record.
	Put(ctx context.Context, job domain.Job) error

	// Get returns the record, domain.ErrJobNotFound when absent or expired,
	// and an error wrapping domain.ErrMalformedJob when it cannot be decoded.
	Get(ctx context.Context, id domain.JobID) (domain.Job, error)

	// MarkInProgress moves PENDING to IN_PROGRESS. Already in progress is a no-op.
	MarkInProgress(ctx context.Context, id domain.JobID) error

	// SetReady moves IN_PROGRESS to FINISHED and stores the result.
	// Disallowed transitions return domain.ErrJobNotFound without mutation.
	SetReady(ctx context.Context, id domain.JobID, result domain.JobResult) error

	// SetError moves IN_PROGRESS to ERROR and stores the message.
	// Disallowed transitions return domain.ErrJobNotFound without mutation.
	SetError(ctx context.Context, id domain.JobID, message string) error
}

// JobStats reports timing metrics over retained jobs.
type JobStats interface {
	StatusMetrics(ctx context.Context) ([]domain.StatusMetric, error)
}

// BlobStore abstracts result storage (S3, memory).
type BlobStore interface {
	// Store writes data under key and returns a presigned GET URL that serves
	// it as an attachment named filename until the retention window ends.
	Store(ctx context.Context, key, filename, contentType string, data []byte) (string, error)
}

// Delivery is one delivery attempt of a queue message.
type Delivery interface {
	Data() []byte
	// NumDelivered counts attempts including this one.
	NumDelivered() uint64
	// Progress resets the ack deadline.
	Progress(ctx context.Context) error
	Ack(ctx context.Context) error
	// Nak asks for redelivery, bounded by max deliveries.
	Nak(ctx context.Context) error
	// Term drops the message without redelivery and raises an advisory.
	Term(ctx context.Context) error
}

// MessageHandler must settle the delivery before returning. The next message
// is not pulled until it returns.
type MessageHandler func(ctx context.Context, d Delivery)

// JobPublisher enqueues job ids.
type JobPublisher interface {
	Publish(ctx context.Context, kind domain.JobKind, id domain.JobID) error
}

// JobQueue abstracts the durable job stream (NATS JetStream, memory).
type JobQueue interface {
	JobPublisher

	// Subscribe pulls messages of one kind one at a time until ctx ends or
	// the transport closes.
	Subscribe(ctx context.Context, kind domain.JobKind, handler MessageHandler) error
}

// DeadLetter is an advisory about a message that exhausted its deliveries or
// was terminated.
type DeadLetter interface {
	// StreamSeq is the sequence of the original message in the source stream.
	StreamSeq() uint64
	// Payload fetches the original message from the source mirror.
	Payload(ctx context.Context) ([]byte, error)
	Ack(ctx context.Context) error
	Nak(ctx context.Context) error
}

// DeadLetterSource delivers advisories one at a time.
type DeadLetterSource interface {
	Subscribe(ctx context.Context, handler func(context.Context, DeadLetter)) error
}

// OfficeConverter turns office documents into PDF (LibreOffice binary or
// container).
type OfficeConverter interface {
	// ConvertToPDF writes a PDF rendition of src into outDir and returns its
	// path. It must give up and kill the conversion when ctx expires.
	ConvertToPDF(ctx context.Context, src, outDir string) (string, error)
}

// PDFToolkit performs file-level page assembly.
type PDFToolkit interface {
	PageCount(ctx context.Context, path string) (int, error)
	// ImageToPDF writes a one-page PDF sized to the image's pixels.
	ImageToPDF(ctx context.Context, imagePath, outPath string) error
	// ExtractPages writes pages [start, end] of src to dst, in order.
	ExtractPages(ctx context.Context, src, dst string, start, end int) error
	// Rotate adds degrees (0, 90, 180 or 270) to every page's rotation.
	Rotate(ctx context.Context, path string, degrees int) error
	Merge(ctx context.Context, inputs []string, dst string) error
	// Attach embeds files; each is attached under its base name.
	Attach(ctx context.Context, path string, files []string) error
}

// PDFInspector opens documents for previewing.
type PDFInspector interface {
	// Open parses data; dir is a private scratch directory the document may
	// use for renderer input and output.
	Open(ctx context.Context, data []byte, dir string) (PDFDocument, error)
}

// PDFDocument is an opened document. Pages are 1-based.
type PDFDocument interface {
	PageCount() int
	RenderPNG(ctx context.Context, page int) ([]byte, error)
	Text(page int) (string, error)
	Attachments() ([]domain.EmbeddedFile, error)
	Signatures() ([]domain.PreviewSignature, error)
	// Protected reports whether any editing or extraction permission is
	// denied.
	Protected() (bool, error)
	Save() ([]byte, error)
	Close() error
}
