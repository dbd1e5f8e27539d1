package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// buildPDF numbers objects from 1 in order and writes a classic xref table.
// Object 1 must be the catalog.
func buildPDF(objects ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /ID [<00112233445566778899aabbccddeeff> <00112233445566778899aabbccddeeff>] >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)
	return buf.Bytes()
}

func stream(content string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
}

const helvetica = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"

// textPDF is a single page showing text, optionally with a page rotation.
func textPDF(text string, rotate int) []byte {
	return buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 200] /Rotate %d /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>", rotate),
		helvetica,
		stream(fmt.Sprintf("BT /F1 12 Tf 20 100 Td (%s) Tj ET", text)),
	)
}

// signedPDF carries a signed field nested under a parent that declares the
// field type, plus an unsigned placeholder.
func signedPDF() []byte {
	return buildPDF(
		"<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [6 0 R 9 0 R] /SigFlags 3 >> >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 200] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R /Annots [7 0 R 9 0 R] >>",
		helvetica,
		stream("BT /F1 12 Tf 20 100 Td (Signed) Tj ET"),
		"<< /FT /Sig /T (Approvals) /Kids [7 0 R] >>",
		"<< /Parent 6 0 R /T (Signature1) /Type /Annot /Subtype /Widget /Rect [0 0 0 0] /P 3 0 R /V 8 0 R >>",
		"<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /adbe.pkcs7.detached /M (D:20260301100000Z) /Reason (Approved) /ByteRange [0 0 0 0] /Contents <3082DEADBEEF> >>",
		"<< /FT /Sig /T (Pending) /Type /Annot /Subtype /Widget /Rect [0 0 0 0] /P 3 0 R >>",
	)
}

func encrypt(t *testing.T, plain []byte, keyLength int) []byte {
	t.Helper()
	conf := newConfiguration()
	conf.OwnerPW = "owner"
	conf.EncryptUsingAES = true
	conf.EncryptKeyLength = keyLength
	conf.Permissions = model.PermissionsNone

	var out bytes.Buffer
	require.NoError(t, api.Encrypt(bytes.NewReader(plain), &out, conf))
	return out.Bytes()
}

func openDocument(t *testing.T, data []byte) ports.PDFDocument {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	doc, err := NewInspector(logger, NewRenderer("", 0)).Open(context.Background(), data, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { doc.Close() })
	return doc
}

func TestInspector_PlainText(t *testing.T) {
	doc := openDocument(t, textPDF("Hello pdfmill", 0))

	text, err := doc.Text(1)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello pdfmill")

	protected, err := doc.Protected()
	require.NoError(t, err)
	assert.False(t, protected)
}

func TestInspector_EncryptedDocuments(t *testing.T) {
	plain := textPDF("Hello pdfmill", 0)

	for _, keyLength := range []int{128, 256} {
		t.Run(fmt.Sprintf("aes-%d", keyLength), func(t *testing.T) {
			doc := openDocument(t, encrypt(t, plain, keyLength))
			assert.Equal(t, 1, doc.PageCount())

			protected, err := doc.Protected()
			require.NoError(t, err)
			assert.True(t, protected)

			text, err := doc.Text(1)
			require.NoError(t, err)
			assert.Contains(t, text, "Hello pdfmill")
		})
	}
}

func TestInspector_Signatures(t *testing.T) {
	doc := openDocument(t, signedPDF())

	sigs, err := doc.Signatures()
	require.NoError(t, err)
	require.Len(t, sigs, 1, "unsigned placeholders are skipped")

	sig := sigs[0]
	assert.Equal(t, []byte{0x30, 0x82, 0xDE, 0xAD, 0xBE, 0xEF}, sig.Signature)
	require.NotNil(t, sig.SigningDate)
	assert.Equal(t, "D:20260301100000Z", *sig.SigningDate)
	require.NotNil(t, sig.Reason)
	assert.Equal(t, "Approved", *sig.Reason)
}

func pageRotation(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	pctx, err := api.ReadAndValidate(f, newConfiguration())
	require.NoError(t, err)
	_, _, inherited, err := pctx.PageDict(1, false)
	require.NoError(t, err)
	return inherited.Rotate
}

func TestToolkit_RotateAddsToExistingRotation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rotated.pdf")
	require.NoError(t, os.WriteFile(path, textPDF("Sideways", 90), 0o600))

	tk := NewToolkit()
	require.Equal(t, 90, pageRotation(t, path))

	require.NoError(t, tk.Rotate(ctx, path, 90))
	assert.Equal(t, 180, pageRotation(t, path))

	require.NoError(t, tk.Rotate(ctx, path, 270))
	assert.Equal(t, 90, pageRotation(t, path))

	require.NoError(t, tk.Rotate(ctx, path, 0))
	assert.Equal(t, 90, pageRotation(t, path))
}
