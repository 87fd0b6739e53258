// Package attach holds the attachment upload policy: size cap, accepted
// MIME types and the coarse category used for rendering hints.
package attach

import "fmt"

// MaxSize is the upload cap in bytes (10 MiB).
const MaxSize = 10 * 1024 * 1024

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var videoTypes = map[string]bool{
	"video/mp4":  true,
	"video/webm": true,
	"video/ogg":  true,
}

var documentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain": true,
	"text/csv":   true,
}

// Upload describes a stored attachment as returned by the object store.
type Upload struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Category returns the coarse kind for a MIME type.
func Category(mimeType string) string {
	switch {
	case imageTypes[mimeType]:
		return "image"
	case videoTypes[mimeType]:
		return "video"
	case documentTypes[mimeType]:
		return "document"
	default:
		return "other"
	}
}

// Validate rejects a file before any network call. A rejected attachment
// aborts the whole send: no partial message is ever created.
func Validate(mimeType string, size int64) error {
	if size > MaxSize {
		return fmt.Errorf("file size %d exceeds the maximum of %d bytes", size, MaxSize)
	}
	if !imageTypes[mimeType] && !videoTypes[mimeType] && !documentTypes[mimeType] {
		return fmt.Errorf("file type %q not supported", mimeType)
	}
	return nil
}
