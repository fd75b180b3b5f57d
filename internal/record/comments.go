package record

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
)

// AddComment 给记录添加评论，评论不影响记录本身。
func (s *Store) AddComment(ctx context.Context, actor identity.Actor, recordID uint, content string) (*database.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errcode.New(errcode.ValidationError, "comment content is required")
	}
	if _, err := s.Get(ctx, actor, recordID); err != nil {
		return nil, err
	}

	comment := database.Comment{
		RecordID:   recordID,
		AuthorID:   actor.UserID,
		AuthorRole: actor.Role,
		Content:    content,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, errcode.Wrap(err, "create comment")
	}
	return &comment, nil
}

// ListComments 按创建顺序返回记录下的评论。
func (s *Store) ListComments(ctx context.Context, actor identity.Actor, recordID uint) ([]database.Comment, error) {
	if _, err := s.Get(ctx, actor, recordID); err != nil {
		return nil, err
	}
	var comments []database.Comment
	err := database.Read(ctx, s.readRetries, func() error {
		comments = nil
		return s.db.WithContext(ctx).Where("record_id = ?", recordID).Order("id ASC").Find(&comments).Error
	})
	if err != nil {
		return nil, errcode.Wrap(err, "list comments of record %d", recordID)
	}
	return comments, nil
}

// DeleteComment 只允许作者删除自己的评论。
func (s *Store) DeleteComment(ctx context.Context, actor identity.Actor, commentID uint) error {
	var comment database.Comment
	err := s.db.WithContext(ctx).First(&comment, commentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errcode.New(errcode.NotFound, "comment %d not found", commentID)
	}
	if err != nil {
		return errcode.Wrap(err, "load comment %d", commentID)
	}
	if comment.AuthorID != actor.UserID {
		return errcode.New(errcode.Forbidden, "only the author can delete a comment")
	}
	if err := s.db.WithContext(ctx).Delete(&comment).Error; err != nil {
		return errcode.Wrap(err, "delete comment %d", commentID)
	}
	return nil
}
