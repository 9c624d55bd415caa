package blob

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxImageBytes bounds a single patient photo.
const MaxImageBytes = 5 << 20

// Images stores patient photos under patients/<patientID>/.
type Images struct {
	store Store
}

// NewImages wraps store.
func NewImages(store Store) *Images { return &Images{store: store} }

// Store returns the underlying backend.
func (im *Images) Store() Store { return im.store }

// ImageKey builds the blob key for a new photo of patientID.
func ImageKey(patientID, name string) string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == "/" || base == "" {
		base = "image"
	}
	return "patients/" + patientID + "/" + uuid.NewString()[:8] + "-" + base
}

// Save stores r as a photo of patientID. Only image content is accepted.
func (im *Images) Save(ctx context.Context, patientID, name string, r io.Reader) (Info, error) {
	if patientID == "" {
		return Info{}, fmt.Errorf("patient id required")
	}
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return Info{}, err
	}
	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		return Info{}, fmt.Errorf("unsupported image content type %s", contentType)
	}
	limited := &io.LimitedReader{R: br, N: MaxImageBytes + 1}
	info, err := im.store.Put(ctx, ImageKey(patientID, name), limited, PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"patient": patientID},
	})
	if err != nil {
		return Info{}, err
	}
	if info.Size > MaxImageBytes {
		_, _ = im.store.Delete(ctx, info.Key)
		return Info{}, fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}
	return info, nil
}

// Remove deletes the given keys, returning the first failure.
func (im *Images) Remove(ctx context.Context, keys ...string) error {
	var first error
	for _, k := range keys {
		if _, err := im.store.Delete(ctx, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ForPatient lists the stored photos of patientID.
func (im *Images) ForPatient(ctx context.Context, patientID string) ([]Info, error) {
	return im.store.List(ctx, "patients/"+patientID+"/")
}
