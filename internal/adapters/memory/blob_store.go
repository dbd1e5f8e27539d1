package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// Blob is one stored object.
type Blob struct {
	Key         string
	Filename    string
	ContentType string
	Data        []byte
}

// BlobStore keeps objects in memory and hands out memory:// URLs shaped like
// presigned GETs.
type BlobStore struct {
	mu      sync.RWMutex
	bucket  string
	expiry  time.Duration
	objects map[string]Blob
	order   []string
	fail    error
}

func NewBlobStore(bucket string, expiry time.Duration) *BlobStore {
	return &BlobStore{
		bucket:  bucket,
		expiry:  expiry,
		objects: make(map[string]Blob),
	}
}

var _ ports.BlobStore = (*BlobStore)(nil)

// FailWith makes every subsequent Store return err; nil restores service.
func (s *BlobStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *BlobStore) Store(_ context.Context, key, filename, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return "", s.fail
	}
	if contentType == "" {
		contentType = domain.MimeOctetStream
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	if _, exists := s.objects[key]; !exists {
		s.order = append(s.order, key)
	}
	s.objects[key] = Blob{Key: key, Filename: filename, ContentType: contentType, Data: cp}

	q := url.Values{}
	q.Set("response-content-disposition", domain.ContentDisposition(filename))
	q.Set("X-Amz-Expires", fmt.Sprintf("%d", int(s.expiry.Seconds())))
	return fmt.Sprintf("memory://%s/%s?%s", s.bucket, url.PathEscape(key), q.Encode()), nil
}

// Get returns a stored object.
func (s *BlobStore) Get(key string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[key]
	return b, ok
}

// Keys lists keys in first-write order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}
