package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

type SourceFile struct {
	ID          string  `json:"id"`
	URI         string  `json:"uri"`
	ContentType *string `json:"contentType,omitempty"`
}

// Rotation is a clockwise page rotation in degrees.
type Rotation int

// Valid reports whether r is one of 0, ±90, ±180, ±270.
func (r Rotation) Valid() bool {
	switch r {
	case 0, 90, 180, 270, -90, -180, -270:
		return true
	}
	return false
}

// Normalized maps r into [0, 360).
func (r Rotation) Normalized() int {
	return ((int(r) % 360) + 360) % 360
}

func (r *Rotation) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("rotation: %w", err)
	}
	rot := Rotation(v)
	if !rot.Valid() {
		return fmt.Errorf("rotation %d is not a multiple of 90 in [-270, 270]", v)
	}
	*r = rot
	return nil
}

type Part struct {
	SourceFile string    `json:"sourceFile"`
	StartPage  *int      `json:"startPageNumber,omitempty"`
	EndPage    *int      `json:"endPageNumber,omitempty"`
	Rotation   *Rotation `json:"rotation,omitempty"`
}

// Degrees is the normalized rotation of the part, 0 when absent.
func (p Part) Degrees() int {
	if p.Rotation == nil {
		return 0
	}
	return p.Rotation.Normalized()
}

// PageRange resolves the inclusive page window of the part against a source
// with pageCount pages.
func (p Part) PageRange(pageCount int) (int, int, error) {
	return PageWindow(p.StartPage, p.EndPage, pageCount)
}

// PageWindow resolves optional bounds to [start|1, end|pageCount] and checks
// 1 <= start <= end <= pageCount.
func PageWindow(start, end *int, pageCount int) (int, int, error) {
	s, e := 1, pageCount
	if start != nil {
		s = *start
	}
	if end != nil {
		e = *end
	}
	switch {
	case s < 1:
		return 0, 0, NewJobError(MsgStartBelowFirst)
	case s > e:
		return 0, 0, NewJobError(MsgStartAfterEnd)
	case e > pageCount:
		return 0, 0, NewJobError(MsgEndExceedsPages)
	}
	return s, e, nil
}

type Attachment struct {
	SourceFile string `json:"sourceFile"`
	Name       string `json:"name"`
}

type Document struct {
	ID          string       `json:"id"`
	Parts       []Part       `json:"parts"`
	Attachments []Attachment `json:"attachments"`
}

type TransformInput struct {
	SourceFiles []SourceFile `json:"sourceFiles"`
	Documents   []Document   `json:"documents"`
}

// Validate rejects inputs that can never succeed: duplicate ids and
// references to undeclared sources.
func (in TransformInput) Validate() error {
	if len(in.Documents) == 0 {
		return errors.New("at least one document is required")
	}
	sources := make(map[string]struct{}, len(in.SourceFiles))
	for _, s := range in.SourceFiles {
		if s.ID == "" || s.URI == "" {
			return errors.New("source files need an id and a uri")
		}
		if _, dup := sources[s.ID]; dup {
			return fmt.Errorf("duplicate source file id %q", s.ID)
		}
		sources[s.ID] = struct{}{}
	}
	docs := make(map[string]struct{}, len(in.Documents))
	for _, d := range in.Documents {
		if d.ID == "" {
			return errors.New("documents need an id")
		}
		if _, dup := docs[d.ID]; dup {
			return fmt.Errorf("duplicate document id %q", d.ID)
		}
		docs[d.ID] = struct{}{}
		for _, p := range d.Parts {
			if _, ok := sources[p.SourceFile]; !ok {
				return fmt.Errorf("document %q references unknown source %q", d.ID, p.SourceFile)
			}
		}
		for _, a := range d.Attachments {
			if _, ok := sources[a.SourceFile]; !ok {
				return fmt.Errorf("document %q attaches unknown source %q", d.ID, a.SourceFile)
			}
			if a.Name == "" {
				return fmt.Errorf("document %q has an attachment without a name", d.ID)
			}
		}
	}
	return nil
}

type TransformDocumentResult struct {
	ID          string `json:"id"`
	DownloadURL string `json:"downloadUrl"`
}

// TransformResult lists the produced documents in declaration order.
type TransformResult []TransformDocumentResult
