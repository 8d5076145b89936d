// Package filehandler turns a user-selected image into the inline payload the
// analysis call needs.
//
// The declared content type is the only gate: anything not starting with
// "image/" is rejected before a single byte is read. Accepted images are held
// in memory together with their standard base64 encoding (no data-URL prefix)
// and a preview handle that stays valid until the payload is released.
package filehandler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnsupportedType is returned when the declared content type is not an image.
	ErrUnsupportedType = errors.New("unsupported content type")
	// ErrEncodingFailed is returned when the bytes cannot be read or encoded.
	ErrEncodingFailed = errors.New("image encoding failed")
)

// User-facing messages for the loader failures.
const (
	MsgUnsupportedType = "检测到非图片文件，请上传 JPG, PNG 或 WEBP。"
	MsgEncodingFailed  = "图片处理失败，请重试。"
)

// PreviewPrefix is the URL path under which payload previews are served.
const PreviewPrefix = "/preview/"

// SupportedImageExtensions maps file extensions to the content type declared
// for files loaded from disk.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// Payload is one loaded image. It is owned by a single session at a time and
// must be released when replaced or discarded.
type Payload struct {
	ID          string
	Filename    string
	MIMEType    string
	Size        int64
	EncodedData string
	Info        ImageInfo

	mu       sync.RWMutex
	data     []byte
	released bool
}

// IsImageContentType reports whether a declared content type names an image.
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// Load reads r fully and builds a Payload. The content type is the one the
// caller declared for the data (browser upload header, file extension).
func Load(r io.Reader, filename, contentType string) (*Payload, error) {
	if !IsImageContentType(contentType) {
		log.Debug().Str("filename", filename).Str("content_type", contentType).Msg("Rejected non-image upload")
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrEncodingFailed, filename, err)
	}
	return fromBytes(data, filename, contentType)
}

// LoadMultipart loads a browser form upload.
func LoadMultipart(fh *multipart.FileHeader) (*Payload, error) {
	contentType := fh.Header.Get("Content-Type")
	if !IsImageContentType(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open upload: %v", ErrEncodingFailed, err)
	}
	defer f.Close()

	return Load(f, fh.Filename, contentType)
}

// LoadFile loads an image from disk. The declared content type is derived
// from the file extension.
func LoadFile(path string) (*Payload, error) {
	contentType := ContentTypeForPath(path)
	if !IsImageContentType(contentType) {
		return nil, fmt.Errorf("%w: %s (%q)", ErrUnsupportedType, filepath.Base(path), contentType)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	defer f.Close()

	return Load(f, filepath.Base(path), contentType)
}

// LoadDataURL loads a "data:<mime>;base64,<payload>" string, the form a
// browser FileReader produces. The declared type comes from the URL header.
func LoadDataURL(dataURL, filename string) (*Payload, error) {
	contentType, encoded, err := SplitDataURL(dataURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	if !IsImageContentType(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrEncodingFailed, err)
	}
	return Load(bytes.NewReader(data), filename, contentType)
}

// Rebuild recreates a stored payload under its original ID, for sessions
// persisted outside the process.
func Rebuild(id, filename, mimeType string, data []byte) (*Payload, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: payload has no ID", ErrEncodingFailed)
	}
	if !IsImageContentType(mimeType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
	p, err := fromBytes(data, filename, mimeType)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

// ContentTypeForPath maps a path's extension to a content type, falling back
// to the system MIME table. Unknown extensions yield "".
func ContentTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := SupportedImageExtensions[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return ct
	}
	return ""
}

// SplitDataURL separates a base64 data URL into its content type and the pure
// payload text after the comma.
func SplitDataURL(dataURL string) (contentType, encoded string, err error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", "", fmt.Errorf("not a data URL")
	}
	header, body, ok := strings.Cut(dataURL[len("data:"):], ",")
	if !ok {
		return "", "", fmt.Errorf("data URL has no payload")
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", "", fmt.Errorf("data URL is not base64 encoded")
	}
	return mediaType, body, nil
}

// StripDataURLPrefix removes a "data:...;base64," prefix if present and
// returns the pure base64 payload.
func StripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, body, ok := strings.Cut(s, ","); ok {
		return body
	}
	return s
}

func fromBytes(data []byte, filename, contentType string) (*Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrEncodingFailed, filename)
	}

	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	encoded := StripDataURLPrefix(dataURL(mimeType, base64.StdEncoding.EncodeToString(data)))

	p := &Payload{
		ID:          uuid.NewString(),
		Filename:    filename,
		MIMEType:    mimeType,
		Size:        int64(len(data)),
		EncodedData: encoded,
		Info:        ExtractImageInfo(data),
		data:        data,
	}

	log.Info().
		Str("payload", p.ID).
		Str("filename", filename).
		Str("mime_type", mimeType).
		Int64("size_bytes", p.Size).
		Msg("Image payload loaded")

	return p, nil
}

func dataURL(mimeType, encoded string) string {
	return "data:" + mimeType + ";base64," + encoded
}

// DataURL returns the payload as a data URL.
func (p *Payload) DataURL() string {
	return dataURL(p.MIMEType, p.EncodedData)
}

// PreviewURL is the renderable handle for this payload.
func (p *Payload) PreviewURL() string {
	return PreviewPrefix + p.ID
}

// Bytes returns the raw image bytes, or false once the payload was released.
func (p *Payload) Bytes() ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.released {
		return nil, false
	}
	return p.data, true
}

// Release invalidates the preview handle and drops the raw bytes.
// It is safe to call more than once.
func (p *Payload) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.data = nil
	log.Debug().Str("payload", p.ID).Msg("Image payload released")
}

// Released reports whether Release has been called.
func (p *Payload) Released() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.released
}
