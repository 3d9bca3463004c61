// Package photo adapts an uploaded image to the workflow's PhotoCapture.
package photo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/face-signup/internal/enrollment"
)

// MaxUploadSize bounds a single photo.
const MaxUploadSize = 4 << 20

var (
	ErrTooLarge        = errors.New("photo exceeds upload limit")
	ErrUnsupportedType = errors.New("photo must be a jpeg or png image")
)

var allowedTypes = []string{"image/jpeg", "image/png"}

// Upload is a PhotoCapture backed by a multipart file part. A nil part means
// the user submitted the form without a photo.
type Upload struct {
	header *multipart.FileHeader
}

// FromFileHeader wraps an uploaded part; header may be nil.
func FromFileHeader(header *multipart.FileHeader) *Upload {
	return &Upload{header: header}
}

// Present reports whether a photo was uploaded.
func (u *Upload) Present() bool {
	return u != nil && u.header != nil
}

// Validate checks the size, the declared content type and the sniffed content type.
func (u *Upload) Validate() error {
	if !u.Present() {
		return nil
	}
	if u.header.Size > MaxUploadSize {
		return ErrTooLarge
	}
	declared := strings.ToLower(strings.TrimSpace(u.header.Header.Get("Content-Type")))
	if declared != "" && !isAllowed(declared) {
		return ErrUnsupportedType
	}

	f, err := u.header.Open()
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return fmt.Errorf("sniff photo: %w", err)
	}
	for _, allowed := range allowedTypes {
		if mtype.Is(allowed) {
			return nil
		}
	}
	return ErrUnsupportedType
}

// Stream validates and opens the uploaded photo, or reports an aborted capture.
// The workflow checks the credential entries before asking for the stream.
func (u *Upload) Stream(ctx context.Context) (io.ReadCloser, error) {
	if !u.Present() {
		return nil, enrollment.ErrCaptureAborted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u.header.Open()
}

func isAllowed(contentType string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	for _, allowed := range allowedTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}
