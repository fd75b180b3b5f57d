package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"

	"dreamGarden/internal/config"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/metrics"
	"dreamGarden/internal/record"
	"dreamGarden/internal/storage"
)

// Kind 区分照片/视频与普通文件。
type Kind string

const (
	KindMedia Kind = "media"
	KindFile  Kind = "file"
)

const viewURLTTL = 15 * time.Minute

// ErrInfected 表示扫描发现恶意内容。
var ErrInfected = errors.New("malicious file detected")

// ObjectStore 是 Blob 存储边界，由 storage.Client 实现。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	ListObjects(ctx context.Context, prefix string, limit int) ([]storage.ObjectMeta, error)
	StatObject(ctx context.Context, objectKey string) (storage.ObjectMeta, error)
}

// Scanner 在存储前检查文件内容。
type Scanner interface {
	Scan(r io.Reader) error
}

// RateCounter 是上传限流用到的 Redis 子集。
type RateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Upload 描述一个待上传的文件。Open 可被调用多次（扫描一次、上传一次）。
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Stored 是上传结果：ObjectKey 写入记录，URL 供前端立即预览。
type Stored struct {
	ObjectKey   string `json:"object_key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Uploader 执行 扫描 → 存储 流程，返回可写入记录的对象键。
type Uploader struct {
	store    ObjectStore
	scanner  Scanner
	counter  RateCounter
	students record.Authorizer
	cfg      config.UploadConfig
	logger   *slog.Logger
}

// NewUploader 构造 Uploader。counter 为 nil 时不限流。
func NewUploader(store ObjectStore, scanner Scanner, counter RateCounter, students record.Authorizer, cfg config.UploadConfig, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		store:    store,
		scanner:  scanner,
		counter:  counter,
		students: students,
		cfg:      cfg,
		logger:   logger,
	}
}

// Upload 校验并存储文件。
func (u *Uploader) Upload(ctx context.Context, actor identity.Actor, studentID uint, kind Kind, up Upload) (*Stored, error) {
	if _, err := u.students.Authorize(ctx, actor, studentID); err != nil {
		return nil, err
	}
	contentType := strings.TrimSpace(up.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := u.validate(kind, contentType, up.Size); err != nil {
		metrics.MediaUploads.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if err := u.checkRate(ctx, actor.UserID); err != nil {
		return nil, err
	}

	if err := u.scan(up); err != nil {
		if errors.Is(err, ErrInfected) {
			metrics.MediaUploads.WithLabelValues("infected").Inc()
			u.logger.Warn("infected upload rejected",
				slog.Uint64("user_id", uint64(actor.UserID)),
				slog.String("filename", up.Filename),
			)
			return nil, errcode.New(errcode.ValidationError, "malicious file detected")
		}
		return nil, errcode.Wrap(err, "scan upload")
	}

	reader, err := up.Open()
	if err != nil {
		return nil, errcode.Wrap(err, "reopen upload")
	}
	defer reader.Close()

	key := storage.NewRecordObjectKey(studentID, up.Filename)
	if _, err := u.store.UploadFile(ctx, key, reader, up.Size, contentType); err != nil {
		return nil, errcode.Wrap(err, "store upload")
	}
	metrics.MediaUploads.WithLabelValues("stored").Inc()

	url, err := u.store.GeneratePresignedURL(ctx, key, viewURLTTL)
	if err != nil {
		return nil, errcode.Wrap(err, "presign upload")
	}
	u.logger.Info("upload stored",
		slog.Uint64("student_id", uint64(studentID)),
		slog.String("object_key", key),
		slog.Int64("size", up.Size),
	)
	return &Stored{ObjectKey: key, URL: url, ContentType: contentType, Size: up.Size}, nil
}

// View 为记录中的对象键签发临时访问链接。
func (u *Uploader) View(ctx context.Context, actor identity.Actor, key string) (string, error) {
	studentID, ok := storage.StudentIDFromRecordKey(key)
	if !ok || !storage.IsValidRecordObjectKey(studentID, key) {
		return "", errcode.New(errcode.ValidationError, "invalid object key")
	}
	if _, err := u.students.Authorize(ctx, actor, studentID); err != nil {
		return "", err
	}
	if _, err := u.store.StatObject(ctx, key); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", errcode.New(errcode.NotFound, "object %q not found", key)
		}
		return "", errcode.Wrap(err, "stat %q", key)
	}
	url, err := u.store.GeneratePresignedURL(ctx, key, viewURLTTL)
	if err != nil {
		return "", errcode.Wrap(err, "presign %q", key)
	}
	return url, nil
}

// Library 列出学生目录下已上传的对象（按需附加到记录前浏览用）。
func (u *Uploader) Library(ctx context.Context, actor identity.Actor, studentID uint, limit int) ([]storage.ObjectMeta, error) {
	if _, err := u.students.Authorize(ctx, actor, studentID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 60
	}
	objects, err := u.store.ListObjects(ctx, storage.RecordObjectPrefix(studentID), limit)
	if err != nil {
		return nil, errcode.Wrap(err, "list uploads of student %d", studentID)
	}
	return objects, nil
}

func (u *Uploader) validate(kind Kind, contentType string, size int64) error {
	if size <= 0 {
		return errcode.New(errcode.ValidationError, "empty upload")
	}
	if u.cfg.MaxBytes > 0 && size > u.cfg.MaxBytes {
		return errcode.New(errcode.ValidationError, "upload exceeds %d bytes", u.cfg.MaxBytes)
	}
	switch kind {
	case KindMedia:
		if !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "video/") {
			return errcode.New(errcode.ValidationError, "media uploads must be images or videos")
		}
	case KindFile:
	default:
		return errcode.New(errcode.ValidationError, "unknown upload kind %q", kind)
	}
	if len(u.cfg.MIMEWhitelist) == 0 {
		return nil
	}
	for _, allowed := range u.cfg.MIMEWhitelist {
		if strings.EqualFold(allowed, contentType) {
			return nil
		}
	}
	return errcode.New(errcode.ValidationError, "content type %q is not allowed", contentType)
}

func (u *Uploader) checkRate(ctx context.Context, userID uint) error {
	if u.counter == nil || u.cfg.PerHourLimit <= 0 {
		return nil
	}
	key := fmt.Sprintf("upload_rate:%d:%s", userID, time.Now().UTC().Format("2006010215"))
	count, err := incrWithTTL(ctx, u.counter, key, time.Hour)
	if err != nil {
		return errcode.Wrap(err, "check upload rate")
	}
	if count > int64(u.cfg.PerHourLimit) {
		metrics.MediaUploads.WithLabelValues("rate_limited").Inc()
		return errcode.New(errcode.LimitExceeded, "upload rate limit of %d per hour reached", u.cfg.PerHourLimit)
	}
	return nil
}

func (u *Uploader) scan(up Upload) error {
	if u.scanner == nil {
		return nil
	}
	reader, err := up.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer reader.Close()
	return u.scanner.Scan(reader)
}

func incrWithTTL(ctx context.Context, client RateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// ClamdScanner 通过 clamd 的 INSTREAM 扫描文件。
type ClamdScanner struct {
	Addr string
}

// Scan 实现 Scanner。
func (s ClamdScanner) Scan(r io.Reader) error {
	client := clamd.NewClamd(s.Addr)
	abort := make(chan bool)
	defer close(abort)

	results, err := client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	for result := range results {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			return fmt.Errorf("%w: %s", ErrInfected, result.Description)
		default:
			return fmt.Errorf("clamd: %s", result.Raw)
		}
	}
	return nil
}
