package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	textpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// Permission bits (PDF 32000-1, table 22) that a preview reports as
// protection when denied.
const (
	permModify      = 1 << 3
	permExtract     = 1 << 4
	permAnnotations = 1 << 5
	permFillForms   = 1 << 8
	permAssemble    = 1 << 10

	protectingPerms = permModify | permExtract | permAnnotations | permFillForms | permAssemble
)

// Inspector opens documents with pdfcpu for structure, ledongthuc/pdf for
// text and pdftoppm for rendering.
type Inspector struct {
	logger   *slog.Logger
	renderer *Renderer
	conf     *model.Configuration
}

func NewInspector(logger *slog.Logger, renderer *Renderer) *Inspector {
	return &Inspector{logger: logger, renderer: renderer, conf: newConfiguration()}
}

var _ ports.PDFInspector = (*Inspector)(nil)

func (i *Inspector) Open(ctx context.Context, data []byte, dir string) (ports.PDFDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), i.conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	// pdftoppm reads from disk.
	path := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}

	return &document{
		inspector: i,
		ctx:       pctx,
		data:      data,
		path:      path,
		dir:       dir,
	}, nil
}

type document struct {
	inspector *Inspector
	ctx       *model.Context
	data      []byte
	path      string
	dir       string

	text    *textpdf.Reader
	textErr error
}

func (d *document) PageCount() int {
	return d.ctx.PageCount
}

func (d *document) RenderPNG(ctx context.Context, page int) ([]byte, error) {
	return d.inspector.renderer.RenderPNG(ctx, d.path, page, d.dir)
}

// Text extracts the plain text of one page. The text parser panics on some
// malformed content streams; that is reported as an error.
func (d *document) Text(page int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("text extraction failed on page %d: %v", page, r)
		}
	}()

	reader, err := d.textReader()
	if err != nil {
		return "", err
	}
	p := reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func (d *document) textReader() (*textpdf.Reader, error) {
	if d.text == nil && d.textErr == nil {
		d.text, d.textErr = d.openText()
	}
	return d.text, d.textErr
}

// openText parses the document for text extraction. The text parser lacks
// AES-256 support, so encrypted documents are read from a decrypted copy.
func (d *document) openText() (*textpdf.Reader, error) {
	data := d.data
	if d.ctx.E != nil {
		var buf bytes.Buffer
		if err := api.Decrypt(bytes.NewReader(d.data), &buf, newConfiguration()); err != nil {
			return nil, fmt.Errorf("failed to decrypt document for text extraction: %w", err)
		}
		data = buf.Bytes()
	}
	return textpdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func (d *document) Attachments() ([]domain.EmbeddedFile, error) {
	atts, err := api.ExtractAttachmentsRaw(bytes.NewReader(d.data), "", nil, d.inspector.conf)
	if err != nil {
		return nil, err
	}
	files := make([]domain.EmbeddedFile, 0, len(atts))
	for _, a := range atts {
		data, err := io.ReadAll(a)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", a.FileName, err)
		}
		name := a.FileName
		if name == "" {
			name = a.ID
		}
		files = append(files, domain.EmbeddedFile{Name: name, Data: data})
	}
	return files, nil
}

func (d *document) Signatures() ([]domain.PreviewSignature, error) {
	return signatures(d.ctx.XRefTable)
}

func (d *document) Protected() (bool, error) {
	if d.ctx.E == nil {
		return false, nil
	}
	return denies(d.ctx.E.P), nil
}

func (d *document) Save() ([]byte, error) {
	var buf bytes.Buffer
	if err := api.WriteContext(d.ctx, &buf); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *document) Close() error {
	d.text = nil
	return nil
}

// denies reports whether any protecting permission is cleared in p.
func denies(p int) bool {
	return p&protectingPerms != protectingPerms
}

// signatures lists signed signature fields of the AcroForm in field order.
func signatures(x *model.XRefTable) ([]domain.PreviewSignature, error) {
	sigs := []domain.PreviewSignature{}
	if x == nil || x.RootDict == nil {
		return sigs, nil
	}
	obj, found := x.RootDict.Find("AcroForm")
	if !found {
		return sigs, nil
	}
	form, err := x.DereferenceDict(obj)
	if err != nil || form == nil {
		return sigs, err
	}
	fields, err := x.DereferenceArray(form["Fields"])
	if err != nil {
		return sigs, err
	}
	return walkFields(x, fields, "", sigs, 0)
}

const maxFieldDepth = 32

func walkFields(x *model.XRefTable, fields types.Array, inheritedFT string, sigs []domain.PreviewSignature, depth int) ([]domain.PreviewSignature, error) {
	if depth > maxFieldDepth {
		return sigs, fmt.Errorf("form field tree too deep")
	}
	for _, f := range fields {
		field, err := x.DereferenceDict(f)
		if err != nil {
			return sigs, err
		}
		if field == nil {
			continue
		}
		ft := inheritedFT
		if n := field.NameEntry("FT"); n != nil {
			ft = *n
		}

		if kids, err := x.DereferenceArray(field["Kids"]); err == nil && len(kids) > 0 {
			if sigs, err = walkFields(x, kids, ft, sigs, depth+1); err != nil {
				return sigs, err
			}
			continue
		}
		if ft != "Sig" {
			continue
		}

		value, err := x.DereferenceDict(field["V"])
		if err != nil {
			return sigs, err
		}
		if value == nil {
			// Unsigned placeholder.
			continue
		}
		sigs = append(sigs, domain.PreviewSignature{
			SigningDate: textValue(x, value["M"]),
			Reason:      textValue(x, value["Reason"]),
			Signature:   rawValue(x, value["Contents"]),
		})
	}
	return sigs, nil
}

func textValue(x *model.XRefTable, obj types.Object) *string {
	obj, err := x.Dereference(obj)
	if err != nil || obj == nil {
		return nil
	}
	var s string
	switch v := obj.(type) {
	case types.StringLiteral:
		s, err = types.StringLiteralToString(v)
	case types.HexLiteral:
		s, err = types.HexLiteralToString(v)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return &s
}

func rawValue(x *model.XRefTable, obj types.Object) []byte {
	obj, err := x.Dereference(obj)
	if err != nil || obj == nil {
		return nil
	}
	switch v := obj.(type) {
	case types.HexLiteral:
		b, err := v.Bytes()
		if err != nil {
			return nil
		}
		return b
	case types.StringLiteral:
		b, err := types.Unescape(v.Value())
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}
