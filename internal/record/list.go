package record

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListOptions 控制分页。Before 为上一页返回的 NextCursor，空表示从最新开始。
type ListOptions struct {
	Limit  int
	Before string
}

// Page 是一页记录。NextCursor 为空表示没有更多。
type Page struct {
	Records    []database.Record `json:"records"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// Cursor 是分页位置：(CreatedAt, ID) 严格小于它的记录属于下一页。
type Cursor struct {
	CreatedAt time.Time
	ID        uint
}

// Encode 把游标编码为不透明字符串。
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%d:%d", c.CreatedAt.UTC().UnixMicro(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor 解析 Encode 生成的字符串。
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, errcode.New(errcode.ValidationError, "malformed cursor")
	}
	micros, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Cursor{}, errcode.New(errcode.ValidationError, "malformed cursor")
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return Cursor{}, errcode.New(errcode.ValidationError, "malformed cursor")
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return Cursor{}, errcode.New(errcode.ValidationError, "malformed cursor")
	}
	return Cursor{CreatedAt: time.UnixMicro(us).UTC(), ID: uint(n)}, nil
}

// ListForStudent 按 (created_at DESC, id DESC) 分页返回学生的记录。
// 新插入的记录总是排在已发出的游标之前，因此遍历开始时已存在的记录恰好各出现一次。
func (s *Store) ListForStudent(ctx context.Context, actor identity.Actor, studentID uint, opts ListOptions) (Page, error) {
	if _, err := s.students.Authorize(ctx, actor, studentID); err != nil {
		return Page{}, err
	}

	limit := opts.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	var cur *Cursor
	if opts.Before != "" {
		decoded, err := DecodeCursor(opts.Before)
		if err != nil {
			return Page{}, err
		}
		cur = &decoded
	}

	var records []database.Record
	err := database.Read(ctx, s.readRetries, func() error {
		query := s.db.WithContext(ctx).Where("student_id = ?", studentID)
		if cur != nil {
			query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", cur.CreatedAt, cur.CreatedAt, cur.ID)
		}
		records = nil
		return query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&records).Error
	})
	if err != nil {
		return Page{}, errcode.Wrap(err, "list records for student %d", studentID)
	}

	page := Page{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		last := page.Records[limit-1]
		page.NextCursor = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}
