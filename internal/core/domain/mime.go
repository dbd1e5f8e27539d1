package domain

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

const (
	MimePDF         = "application/pdf"
	MimePNG         = "image/png"
	MimeJPEG        = "image/jpeg"
	MimeGIF         = "image/gif"
	MimeBMP         = "image/bmp"
	MimeOctetStream = "application/octet-stream"
)

var extensionMimes = map[string]string{
	".pdf":  MimePDF,
	".png":  MimePNG,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".gif":  MimeGIF,
	".bmp":  MimeBMP,
}

// MimeFromName infers a MIME type from a file name or URI path extension.
func MimeFromName(name string) (string, bool) {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	m, ok := extensionMimes[strings.ToLower(path.Ext(name))]
	return m, ok
}

// ResolveContentType picks the content type of a downloaded source: the
// caller override, then the response header, then the URI extension for
// missing or generic headers, then application/pdf.
func ResolveContentType(override *string, header, uri string) string {
	if override != nil {
		if m := normalizeMime(*override); m != "" {
			return m
		}
	}
	h := normalizeMime(header)
	if h != "" && h != MimeOctetStream {
		return h
	}
	if m, ok := MimeFromName(uri); ok {
		return m
	}
	if h != "" {
		return h
	}
	return MimePDF
}

func normalizeMime(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// IsRasterImage reports whether the type is one of png, jpeg, gif or bmp.
func IsRasterImage(contentType string) bool {
	switch normalizeMime(contentType) {
	case MimePNG, MimeJPEG, "image/jpg", MimeGIF, MimeBMP, "image/x-ms-bmp":
		return true
	}
	return false
}

func IsPDF(contentType string) bool {
	return normalizeMime(contentType) == MimePDF
}

// ContentDisposition builds the attachment disposition embedded in presigned
// URLs.
func ContentDisposition(filename string) string {
	filename = strings.NewReplacer(`"`, "", "\r", "", "\n", "").Replace(filename)
	return `attachment; filename="` + filename + `"`
}
