package photos

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
)

type objectStore interface {
	Upload(ctx context.Context, object, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, object string) error
}

// Image is a decoded, type-checked photo ready for upload.
type Image struct {
	Data        []byte
	ContentType string
	Ext         string
}

// Stored locates an uploaded photo.
type Stored struct {
	Object string
	URL    string
}

// Service ingests visitor photos.
type Service interface {
	Decode(raw string) (*Image, error)
	Upload(ctx context.Context, img *Image) (*Stored, error)
	// Discard removes a photo whose registration never committed.
	Discard(ctx context.Context, stored *Stored) error
}

type service struct {
	store    objectStore
	prefix   string
	maxBytes int
	timeout  time.Duration
	now      func() time.Time
}

func NewService(store objectStore, cfg config.GCSConfig) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("object store required")
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.PhotoPrefix), "/")
	if prefix == "" {
		prefix = "visitor-photos"
	}
	maxMB := cfg.MaxPhotoMB
	if maxMB <= 0 {
		maxMB = 5
	}
	return &service{
		store:    store,
		prefix:   prefix,
		maxBytes: maxMB * 1024 * 1024,
		timeout:  cfg.UploadTimeout,
		now:      time.Now,
	}, nil
}

// Decode accepts raw base64 or a data URL and validates the image content.
func (s *service) Decode(raw string) (*Image, error) {
	encoded := strings.TrimSpace(raw)
	if encoded == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "photo is required")
	}
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 || !strings.Contains(encoded[:comma], ";base64") {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "photo data url must be base64 encoded")
		}
		encoded = encoded[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "photo is not valid base64")
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "photo is empty")
	}
	if len(data) > s.maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "photo exceeds size limit").
			WithDetails(map[string]any{"maxBytes": s.maxBytes, "bytes": len(data)})
	}

	contentType, ext, ok := sniffImage(data)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "photo must be "+allowedImageDescription).
			WithDetails(map[string]any{"detected": contentType})
	}
	return &Image{Data: data, ContentType: contentType, Ext: ext}, nil
}

// Upload stores the image under <prefix>/<unix-millis>.<ext>.
func (s *service) Upload(ctx context.Context, img *Image) (*Stored, error) {
	if img == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "photo is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	object := path.Join(s.prefix, strconv.FormatInt(s.now().UnixMilli(), 10)+"."+img.Ext)
	url, err := s.store.Upload(ctx, object, img.ContentType, img.Data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload photo")
	}
	return &Stored{Object: object, URL: url}, nil
}

func (s *service) Discard(ctx context.Context, stored *Stored) error {
	if stored == nil || stored.Object == "" {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.Delete(ctx, stored.Object); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "discard photo")
	}
	return nil
}

func (s *service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}
