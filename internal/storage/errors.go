package storage

import (
	"errors"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ErrObjectNotFound 表示对象键在 Bucket 中不存在。
var ErrObjectNotFound = errors.New("object not found")

// isNoSuchKey 只认 S3/MinIO 明确返回的错误码，网络错误一律不算"不存在"。
func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(resp.Code)) {
	case "nosuchkey", "notfound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code == ""
}
