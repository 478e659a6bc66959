package photos

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
)

type stubStore struct {
	object      string
	contentType string
	data        []byte
	deleted     []string
	err         error
}

func (s *stubStore) Upload(_ context.Context, object, contentType string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.object = object
	s.contentType = contentType
	s.data = data
	return "https://storage.googleapis.com/bucket/" + object, nil
}

func (s *stubStore) Delete(_ context.Context, object string) error {
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, object)
	return nil
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestService(t *testing.T, store *stubStore) *service {
	t.Helper()
	svc, err := NewService(store, config.GCSConfig{PhotoPrefix: "visitor-photos", MaxPhotoMB: 1})
	require.NoError(t, err)
	impl := svc.(*service)
	impl.now = func() time.Time { return time.UnixMilli(1767225600123) }
	return impl
}

func TestDecodeAcceptsDataURLAndRawBase64(t *testing.T) {
	svc := newTestService(t, &stubStore{})
	raw := base64.StdEncoding.EncodeToString(tinyPNG(t))

	for _, input := range []string{raw, "data:image/png;base64," + raw} {
		img, err := svc.Decode(input)
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.ContentType)
		assert.Equal(t, "png", img.Ext)
	}
}

func TestDecodeRejectsNonImages(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	cases := []string{
		"",
		"%%%not-base64%%%",
		base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 just a document")),
		"data:image/png," + base64.StdEncoding.EncodeToString(tinyPNG(t)),
	}
	for _, input := range cases {
		_, err := svc.Decode(input)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), input)
	}
}

func TestDecodeEnforcesSizeLimit(t *testing.T) {
	svc := newTestService(t, &stubStore{})
	big := append(tinyPNG(t), make([]byte, 1024*1024)...)

	_, err := svc.Decode(base64.StdEncoding.EncodeToString(big))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUploadUsesTimestampedPath(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(t, store)
	img, err := svc.Decode(base64.StdEncoding.EncodeToString(tinyPNG(t)))
	require.NoError(t, err)

	stored, err := svc.Upload(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "visitor-photos/1767225600123.png", store.object)
	assert.Equal(t, "image/png", store.contentType)
	assert.Equal(t, "visitor-photos/1767225600123.png", stored.Object)
	assert.Equal(t, "https://storage.googleapis.com/bucket/visitor-photos/1767225600123.png", stored.URL)
}

func TestDiscardDeletesStoredObject(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(t, store)

	require.NoError(t, svc.Discard(context.Background(), &Stored{Object: "visitor-photos/1.png"}))
	require.NoError(t, svc.Discard(context.Background(), nil))
	assert.Equal(t, []string{"visitor-photos/1.png"}, store.deleted)

	store.err = errors.New("403")
	err := svc.Discard(context.Background(), &Stored{Object: "visitor-photos/2.png"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestUploadFailureIsDependencyError(t *testing.T) {
	svc := newTestService(t, &stubStore{err: errors.New("503 from storage")})

	_, err := svc.Upload(context.Background(), &Image{Data: []byte{1}, ContentType: "image/png", Ext: "png"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
