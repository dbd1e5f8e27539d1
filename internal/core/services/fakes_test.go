package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fakePage is one page of a fake document. Fake documents are JSON files so
// assembly results can be asserted page by page.
type fakePage struct {
	Src  string `json:"src"`
	Page int    `json:"page"`
	Rot  int    `json:"rot"`
}

type fakeDoc struct {
	Pages       []fakePage `json:"pages"`
	Attachments []string   `json:"attachments,omitempty"`
}

func writeFakeDoc(path string, doc fakeDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readFakeDoc(path string) (fakeDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fakeDoc{}, err
	}
	var doc fakeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fakeDoc{}, fmt.Errorf("not a document: %w", err)
	}
	return doc, nil
}

func fakeSource(name string, pages int) fakeDoc {
	doc := fakeDoc{}
	for i := 1; i <= pages; i++ {
		doc.Pages = append(doc.Pages, fakePage{Src: name, Page: i})
	}
	return doc
}

type fakeToolkit struct {
	mu         sync.Mutex
	pageCounts int
}

func (f *fakeToolkit) PageCount(_ context.Context, path string) (int, error) {
	f.mu.Lock()
	f.pageCounts++
	f.mu.Unlock()
	doc, err := readFakeDoc(path)
	if err != nil {
		return 0, err
	}
	return len(doc.Pages), nil
}

func (f *fakeToolkit) ImageToPDF(_ context.Context, imagePath, outPath string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	if string(data) == "corrupt" {
		return errors.New("unknown image format")
	}
	return writeFakeDoc(outPath, fakeDoc{Pages: []fakePage{{Src: "image:" + string(data), Page: 1}}})
}

func (f *fakeToolkit) ExtractPages(_ context.Context, src, dst string, start, end int) error {
	doc, err := readFakeDoc(src)
	if err != nil {
		return err
	}
	return writeFakeDoc(dst, fakeDoc{Pages: doc.Pages[start-1 : end]})
}

func (f *fakeToolkit) Rotate(_ context.Context, path string, degrees int) error {
	doc, err := readFakeDoc(path)
	if err != nil {
		return err
	}
	for i := range doc.Pages {
		doc.Pages[i].Rot = (doc.Pages[i].Rot + degrees) % 360
	}
	return writeFakeDoc(path, doc)
}

func (f *fakeToolkit) Merge(_ context.Context, inputs []string, dst string) error {
	var out fakeDoc
	for _, in := range inputs {
		doc, err := readFakeDoc(in)
		if err != nil {
			return err
		}
		out.Pages = append(out.Pages, doc.Pages...)
	}
	return writeFakeDoc(dst, out)
}

func (f *fakeToolkit) Attach(_ context.Context, path string, files []string) error {
	doc, err := readFakeDoc(path)
	if err != nil {
		return err
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			return err
		}
		doc.Attachments = append(doc.Attachments, filepath.Base(file))
	}
	return writeFakeDoc(path, doc)
}

func (f *fakeToolkit) PageCountCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCounts
}

// fakeConverter "converts" by copying the source, which already holds a fake
// document.
type fakeConverter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeConverter) ConvertToPDF(_ context.Context, src, outDir string) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	dst := filepath.Join(outDir, "converted.pdf")
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	return dst, os.WriteFile(dst, data, 0o644)
}

func (c *fakeConverter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func intPtr(v int) *int { return &v }
