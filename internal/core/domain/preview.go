package domain

import "errors"

// PreviewInput selects the outputs of a preview job. Every flag defaults to
// enabled when absent.
type PreviewInput struct {
	SourceURI      string  `json:"sourceUri"`
	SourceMimeType *string `json:"sourceMimeType,omitempty"`
	PDF            *bool   `json:"pdf,omitempty"`
	PNG            *bool   `json:"png,omitempty"`
	Text           *bool   `json:"text,omitempty"`
	Attachments    *bool   `json:"attachments,omitempty"`
	Signatures     *bool   `json:"signatures,omitempty"`
	StartPage      *int    `json:"startPage,omitempty"`
	EndPage        *int    `json:"endPage,omitempty"`
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

func (p PreviewInput) WantsPDF() bool         { return enabled(p.PDF) }
func (p PreviewInput) WantsPNG() bool         { return enabled(p.PNG) }
func (p PreviewInput) WantsText() bool        { return enabled(p.Text) }
func (p PreviewInput) WantsAttachments() bool { return enabled(p.Attachments) }
func (p PreviewInput) WantsSignatures() bool  { return enabled(p.Signatures) }

func (p PreviewInput) Validate() error {
	if p.SourceURI == "" {
		return errors.New("sourceUri is required")
	}
	return nil
}

type PreviewPage struct {
	DownloadURL *string `json:"downloadUrl,omitempty"`
	Text        *string `json:"text,omitempty"`
}

type PreviewAttachment struct {
	Name        string `json:"name"`
	DownloadURL string `json:"downloadUrl"`
}

// PreviewSignature describes one signature field. Signature holds the raw
// /Contents blob and is base64 encoded on the wire.
type PreviewSignature struct {
	SigningDate *string `json:"signingDate"`
	Reason      *string `json:"reason"`
	Signature   []byte  `json:"signatureBytes"`
}

// PreviewResult lists are nil when the matching flag was off and non-nil
// (possibly empty) when it was on.
type PreviewResult struct {
	PageCount   int                 `json:"pageCount"`
	Pages       []PreviewPage       `json:"pages"`
	Attachments []PreviewAttachment `json:"attachments"`
	Signatures  []PreviewSignature  `json:"signatures"`
	Protected   bool                `json:"protected"`
	PDF         *string             `json:"pdf"`
}

// EmbeddedFile is an attachment extracted from a document.
type EmbeddedFile struct {
	Name string
	Data []byte
}
