package photos

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var allowedImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

const allowedImageDescription = "jpeg, png, webp, or gif"

// sniffImage detects the image type from the content itself, ignoring any
// declared type.
func sniffImage(data []byte) (mimeType, ext string, ok bool) {
	detected := mimetype.Detect(data)
	mediaType := strings.ToLower(detected.String())
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	ext, ok = allowedImageTypes[mediaType]
	return mediaType, ext, ok
}
