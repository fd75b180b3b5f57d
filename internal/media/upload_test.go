package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamGarden/internal/config"
	"dreamGarden/internal/database"
	"dreamGarden/internal/database/dbtest"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/storage"
	"dreamGarden/internal/student"
)

type fakeStorage struct {
	mu       sync.Mutex
	uploaded map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[objectName] = b
	return &minio.UploadInfo{Key: objectName, Size: int64(len(b))}, nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + objectKey, nil
}

func (s *fakeStorage) ListObjects(_ context.Context, prefix string, limit int) ([]storage.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectMeta
	for key, b := range s.uploaded {
		if strings.HasPrefix(key, prefix) && len(out) < limit {
			out = append(out, storage.ObjectMeta{Key: key, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (s *fakeStorage) StatObject(_ context.Context, objectKey string) (storage.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploaded[objectKey]
	if !ok {
		return storage.ObjectMeta{}, fmt.Errorf("stat object %q: %w", objectKey, storage.ErrObjectNotFound)
	}
	return storage.ObjectMeta{Key: objectKey, Size: int64(len(b))}, nil
}

type fakeScanner struct {
	infected bool
	scanned  int
}

func (s *fakeScanner) Scan(r io.Reader) error {
	s.scanned++
	_, _ = io.Copy(io.Discard, r)
	if s.infected {
		return ErrInfected
	}
	return nil
}

type fakeCounter struct {
	counts map[string]int64
}

func (c *fakeCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	c.counts[key]++
	return redis.NewIntResult(c.counts[key], nil)
}

func (c *fakeCounter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func newUpload(name, contentType string, content []byte) Upload {
	return Upload{
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

type uploadFixture struct {
	uploader *Uploader
	store    *fakeStorage
	scanner  *fakeScanner
	actor    identity.Actor
	stranger identity.Actor
	student  *database.Student
}

func newUploadFixture(t *testing.T, perHour int) *uploadFixture {
	t.Helper()
	db := dbtest.New(t)
	parent := dbtest.SeedUser(t, db, database.RoleParent)
	other := dbtest.SeedUser(t, db, database.RoleParent)
	s := dbtest.SeedStudent(t, db, "민준", parent.ID)

	store := newFakeStorage()
	scanner := &fakeScanner{}
	cfg := config.UploadConfig{
		MaxBytes:      1024,
		MIMEWhitelist: []string{"image/png", "image/jpeg", "application/pdf"},
		PerHourLimit:  perHour,
	}
	return &uploadFixture{
		uploader: NewUploader(store, scanner, &fakeCounter{counts: map[string]int64{}}, student.NewRegistry(db, 0), cfg, nil),
		store:    store,
		scanner:  scanner,
		actor:    identity.Actor{UserID: parent.ID, Role: parent.Role},
		stranger: identity.Actor{UserID: other.ID, Role: other.Role},
		student:  s,
	}
}

func TestUploadStoresUnderStudentPrefix(t *testing.T) {
	f := newUploadFixture(t, 10)
	content := []byte("\x89PNG fake image")

	stored, err := f.uploader.Upload(context.Background(), f.actor, f.student.ID, KindMedia, newUpload("photo.PNG", "image/png", content))
	require.NoError(t, err)

	assert.True(t, storage.IsValidRecordObjectKey(f.student.ID, stored.ObjectKey))
	assert.True(t, strings.HasSuffix(stored.ObjectKey, ".png"))
	assert.Equal(t, content, f.store.uploaded[stored.ObjectKey])
	assert.Equal(t, 1, f.scanner.scanned)
	assert.NotEmpty(t, stored.URL)

	url, err := f.uploader.View(context.Background(), f.actor, stored.ObjectKey)
	require.NoError(t, err)
	assert.Contains(t, url, stored.ObjectKey)

	_, err = f.uploader.View(context.Background(), f.stranger, stored.ObjectKey)
	assert.ErrorIs(t, err, errcode.Forbidden)

	items, err := f.uploader.Library(context.Background(), f.actor, f.student.ID, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestUploadRejections(t *testing.T) {
	f := newUploadFixture(t, 10)
	ctx := context.Background()

	_, err := f.uploader.Upload(ctx, f.stranger, f.student.ID, KindMedia, newUpload("a.png", "image/png", []byte("x")))
	assert.ErrorIs(t, err, errcode.Forbidden)

	_, err = f.uploader.Upload(ctx, f.actor, f.student.ID, KindMedia, newUpload("a.pdf", "application/pdf", []byte("x")))
	assert.ErrorIs(t, err, errcode.ValidationError)

	_, err = f.uploader.Upload(ctx, f.actor, f.student.ID, KindFile, newUpload("a.exe", "application/x-msdownload", []byte("x")))
	assert.ErrorIs(t, err, errcode.ValidationError)

	_, err = f.uploader.Upload(ctx, f.actor, f.student.ID, KindFile, newUpload("big.pdf", "application/pdf", make([]byte, 2048)))
	assert.ErrorIs(t, err, errcode.ValidationError)

	f.scanner.infected = true
	_, err = f.uploader.Upload(ctx, f.actor, f.student.ID, KindFile, newUpload("doc.pdf", "application/pdf", []byte("x")))
	assert.ErrorIs(t, err, errcode.ValidationError)

	assert.Empty(t, f.store.uploaded)
}

func TestUploadRateLimit(t *testing.T) {
	f := newUploadFixture(t, 2)
	ctx := context.Background()
	up := newUpload("a.jpg", "image/jpeg", []byte("jpeg"))

	for i := 0; i < 2; i++ {
		_, err := f.uploader.Upload(ctx, f.actor, f.student.ID, KindMedia, up)
		require.NoError(t, err)
	}
	_, err := f.uploader.Upload(ctx, f.actor, f.student.ID, KindMedia, up)
	assert.ErrorIs(t, err, errcode.LimitExceeded)
}

func TestViewRejectsMalformedKeys(t *testing.T) {
	f := newUploadFixture(t, 10)
	for _, key := range []string{"", "portfolios/1/portfolio.pdf", "records/1/../2/x.png"} {
		_, err := f.uploader.View(context.Background(), f.actor, key)
		assert.ErrorIs(t, err, errcode.ValidationError, key)
	}
}

func TestViewMissingObject(t *testing.T) {
	f := newUploadFixture(t, 10)
	key := storage.NewRecordObjectKey(f.student.ID, "gone.png")

	_, err := f.uploader.View(context.Background(), f.actor, key)
	assert.ErrorIs(t, err, errcode.NotFound)
}
