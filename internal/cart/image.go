package cart

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
)

// ErrImageResolved is returned when opening an image that only exists as a durable URL.
var ErrImageResolved = errors.New("cart: image already uploaded")

// Image is an ownership handle to a customer-selected picture. Two cart items
// share an upload only when they hold the same handle value.
type Image interface {
	Name() string
	ContentType() string
	Open() (io.ReadCloser, error)
}

// Preview is a locally renderable reference derived from an Image. It must be
// closed when the owning cart item goes away.
type Preview interface {
	io.Closer
}

// Previewer is implemented by images that can hand out a Preview.
type Previewer interface {
	Preview() (Preview, error)
}

// Resolved is implemented by images that already have a durable URL.
type Resolved interface {
	URL() string
}

// FileImage is an image received as a multipart file part.
type FileImage struct {
	header *multipart.FileHeader
}

// NewFileImage wraps a multipart file header.
func NewFileImage(header *multipart.FileHeader) *FileImage {
	return &FileImage{header: header}
}

func (f *FileImage) Name() string {
	if f == nil || f.header == nil {
		return ""
	}
	return f.header.Filename
}

// ContentType returns the declared part content type, falling back to sniffing.
func (f *FileImage) ContentType() string {
	if f == nil || f.header == nil {
		return ""
	}
	if declared := strings.TrimSpace(f.header.Header.Get("Content-Type")); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	file, err := f.header.Open()
	if err != nil {
		return ""
	}
	defer file.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	return http.DetectContentType(head[:n])
}

// Size returns the declared part size in bytes.
func (f *FileImage) Size() int64 {
	if f == nil || f.header == nil {
		return 0
	}
	return f.header.Size
}

func (f *FileImage) Open() (io.ReadCloser, error) {
	if f == nil || f.header == nil {
		return nil, errors.New("cart: file image is empty")
	}
	return f.header.Open()
}

// Preview opens a dedicated handle on the part for rendering.
func (f *FileImage) Preview() (Preview, error) {
	file, err := f.Open()
	if err != nil {
		return nil, err
	}
	return &filePreview{file: file}, nil
}

type filePreview struct {
	once sync.Once
	file io.Closer
	err  error
}

func (p *filePreview) Close() error {
	p.once.Do(func() {
		p.err = p.file.Close()
	})
	return p.err
}

// BytesImage is an in-memory image.
type BytesImage struct {
	name        string
	contentType string
	data        []byte
}

// NewBytesImage copies data into a new in-memory image handle.
func NewBytesImage(name, contentType string, data []byte) *BytesImage {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &BytesImage{name: name, contentType: contentType, data: buf}
}

func (b *BytesImage) Name() string        { return b.name }
func (b *BytesImage) ContentType() string { return b.contentType }
func (b *BytesImage) Size() int64         { return int64(len(b.data)) }

func (b *BytesImage) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// UploadedImage refers to a picture that a previous checkout attempt already
// stored durably.
type UploadedImage struct {
	url string
}

// NewUploadedImage returns a handle for a durable image URL.
func NewUploadedImage(url string) UploadedImage {
	return UploadedImage{url: strings.TrimSpace(url)}
}

func (u UploadedImage) Name() string        { return u.url }
func (u UploadedImage) ContentType() string { return "" }
func (u UploadedImage) URL() string         { return u.url }

func (u UploadedImage) Open() (io.ReadCloser, error) {
	return nil, ErrImageResolved
}
