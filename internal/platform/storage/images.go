package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultMaxImageBytes is the upload ceiling for customer images (10 MiB).
	DefaultMaxImageBytes int64 = 10 << 20
	defaultCacheControl        = "public, max-age=31536000, immutable"
	defaultPublicHost          = "https://storage.googleapis.com"
)

// DefaultImageContentTypes is the allow-list of customer image formats.
var DefaultImageContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/tiff",
	"image/bmp",
}

var (
	// ErrImageTooLarge is returned when the payload exceeds the ceiling.
	ErrImageTooLarge = errors.New("storage: image exceeds size limit")
	// ErrImageContentType is returned for formats outside the allow-list or mismatched payloads.
	ErrImageContentType = errors.New("storage: image content type not allowed")
	// ErrImageEmpty is returned for zero-byte uploads.
	ErrImageEmpty = errors.New("storage: image is empty")
	// ErrImageTransport is returned when the object store rejects or cannot be reached.
	ErrImageTransport = errors.New("storage: image transport failed")
)

// UploadError describes a failed image upload.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	if e.Filename == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (file %q)", e.Err, e.Filename)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Retryable reports whether the same bytes may succeed on another attempt.
func (e *UploadError) Retryable() bool {
	return errors.Is(e.Err, ErrImageTransport)
}

// UploadInput describes an image to store.
type UploadInput struct {
	Body        io.Reader
	Filename    string
	ContentType string
	Folder      string
}

// UploadResult is the durable location of a stored image.
type UploadResult struct {
	URL         string
	Object      string
	ContentType string
	Size        int64
}

// ObjectAttrs are the attributes written with an object.
type ObjectAttrs struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// ObjectWriter persists an object body.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object string, attrs ObjectAttrs, body io.Reader) error
}

// GCSWriter writes objects to Cloud Storage.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter wraps a Cloud Storage client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// WriteObject streams the body to bucket/object. Existing objects are never overwritten.
func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object string, attrs ObjectAttrs, body io.Reader) error {
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handle := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	writer := handle.NewWriter(writeCtx)
	writer.ContentType = attrs.ContentType
	writer.CacheControl = attrs.CacheControl
	writer.Metadata = attrs.Metadata

	if _, err := io.Copy(writer, body); err != nil {
		cancel()
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// ImageStoreConfig configures an ImageStore.
type ImageStoreConfig struct {
	Bucket              string
	PublicBaseURL       string
	MaxBytes            int64
	AllowedContentTypes []string
	Writer              ObjectWriter
	Clock               func() time.Time
	IDGenerator         func() string
}

// ImageStore stores customer images and returns public URLs that never expire.
// It does not deduplicate; callers upload each distinct handle once.
type ImageStore struct {
	bucket   string
	baseURL  string
	maxBytes int64
	allowed  map[string]struct{}
	writer   ObjectWriter
	now      func() time.Time
	newID    func() string
}

// NewImageStore validates the configuration and constructs an ImageStore.
func NewImageStore(cfg ImageStoreConfig) (*ImageStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	if cfg.Writer == nil {
		return nil, errors.New("storage: object writer is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPublicHost + "/" + bucket
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("storage: invalid public base url: %w", err)
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	types := cfg.AllowedContentTypes
	if len(types) == 0 {
		types = DefaultImageContentTypes
	}
	allowed := make(map[string]struct{}, len(types))
	for _, ct := range types {
		if normalized := normalizeContentType(ct); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	return &ImageStore{
		bucket:   bucket,
		baseURL:  baseURL,
		maxBytes: maxBytes,
		allowed:  allowed,
		writer:   cfg.Writer,
		now:      func() time.Time { return clock().UTC() },
		newID:    newID,
	}, nil
}

// Upload validates and stores the image, returning its public URL.
func (s *ImageStore) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if in.Body == nil {
		return UploadResult{}, &UploadError{Filename: in.Filename, Err: ErrImageEmpty}
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxBytes+1))
	if err != nil {
		return UploadResult{}, &UploadError{Filename: in.Filename, Err: fmt.Errorf("%w: read body: %v", ErrImageTransport, err)}
	}
	if len(data) == 0 {
		return UploadResult{}, &UploadError{Filename: in.Filename, Err: ErrImageEmpty}
	}
	if int64(len(data)) > s.maxBytes {
		return UploadResult{}, &UploadError{Filename: in.Filename, Err: fmt.Errorf("%w: limit %d bytes", ErrImageTooLarge, s.maxBytes)}
	}

	contentType, err := s.resolveContentType(in.ContentType, data)
	if err != nil {
		return UploadResult{}, &UploadError{Filename: in.Filename, Err: err}
	}

	folder := strings.Trim(strings.TrimSpace(in.Folder), "/")
	if folder == "" {
		folder = "uploads"
	}
	object, err := customerImagePath(folder, s.newID(), SanitizeFileName(in.Filename, contentType))
	if err != nil {
		return UploadResult{}, &UploadError{Filename: in.Filename, Err: fmt.Errorf("%w: %v", ErrImageContentType, err)}
	}

	attrs := ObjectAttrs{
		ContentType:  contentType,
		CacheControl: defaultCacheControl,
		Metadata: map[string]string{
			"original_filename": strings.TrimSpace(in.Filename),
			"uploaded_at":       s.now().Format(time.RFC3339),
		},
	}
	if err := s.writer.WriteObject(ctx, s.bucket, object, attrs, bytes.NewReader(data)); err != nil {
		return UploadResult{}, &UploadError{Filename: in.Filename, Err: fmt.Errorf("%w: %v", ErrImageTransport, err)}
	}

	return UploadResult{
		URL:         s.PublicURL(object),
		Object:      object,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// PublicURL returns the public address of an object.
func (s *ImageStore) PublicURL(object string) string {
	segments := strings.Split(object, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}

// Owns reports whether the URL points into this store.
func (s *ImageStore) Owns(raw string) bool {
	raw = strings.TrimSpace(raw)
	return raw != "" && strings.HasPrefix(raw, s.baseURL+"/") && !strings.Contains(raw, "..")
}

// MaxBytes returns the configured upload ceiling.
func (s *ImageStore) MaxBytes() int64 {
	return s.maxBytes
}

func (s *ImageStore) resolveContentType(declared string, data []byte) (string, error) {
	sniffed := normalizeContentType(http.DetectContentType(data))
	contentType := normalizeContentType(declared)
	if contentType == "" {
		contentType = sniffed
	}
	if _, ok := s.allowed[contentType]; !ok {
		return "", fmt.Errorf("%w: %q", ErrImageContentType, contentType)
	}
	// The sniffer recognises jpeg, png, webp and bmp; tiff always sniffs as octet-stream.
	if sniffable(contentType) && sniffed != contentType {
		return "", fmt.Errorf("%w: declared %q but content looks like %q", ErrImageContentType, contentType, sniffed)
	}
	return contentType, nil
}

func sniffable(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/webp", "image/bmp":
		return true
	}
	return false
}

func normalizeContentType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(value); err == nil {
		value = parsed
	}
	value = strings.ToLower(value)
	switch value {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-ms-bmp":
		return "image/bmp"
	case "image/tif":
		return "image/tiff"
	}
	return value
}
