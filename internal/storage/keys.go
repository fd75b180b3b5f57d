package storage

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxObjectKeyLen = 200

// RecordObjectPrefix 是学生记录媒体的对象前缀。
func RecordObjectPrefix(studentID uint) string {
	return fmt.Sprintf("records/%d/", studentID)
}

// NewRecordObjectKey 为上传文件生成对象键：records/<studentID>/<uuid><ext>。
func NewRecordObjectKey(studentID uint, filename string) string {
	return RecordObjectPrefix(studentID) + uuid.NewString() + cleanExt(filename)
}

// PortfolioPDFKey 是学生作品集 PDF 的对象键，每次导出覆盖。
func PortfolioPDFKey(studentID uint) string {
	return fmt.Sprintf("portfolios/%d/portfolio.pdf", studentID)
}

// StudentIDFromRecordKey 从记录媒体对象键中解析学生 ID。
func StudentIDFromRecordKey(key string) (uint, bool) {
	rest, ok := strings.CutPrefix(key, "records/")
	if !ok {
		return 0, false
	}
	idPart, _, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// IsValidRecordObjectKey 校验对象键属于该学生且不含路径穿越。
func IsValidRecordObjectKey(studentID uint, key string) bool {
	if key == "" || !utf8.ValidString(key) || len(key) > maxObjectKeyLen {
		return false
	}
	if !strings.HasPrefix(key, RecordObjectPrefix(studentID)) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	return strings.TrimSpace(key) == key
}

// IsValidRecordReference 判断记录上的媒体/文件引用是否可接受：
// 本学生目录下的对象键，或带主机名的外部 http(s) 地址。
func IsValidRecordReference(studentID uint, ref string) bool {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		u, err := url.Parse(ref)
		return err == nil && u.Host != ""
	}
	return IsValidRecordObjectKey(studentID, ref)
}

// cleanExt 只保留短的字母数字扩展名。
func cleanExt(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
