package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dreamGarden/internal/media"
)

// MediaHandler 负责媒体上传（扫描后存储）与访问。
type MediaHandler struct {
	uploader *media.Uploader
}

// NewMediaHandler 返回 MediaHandler 实例。
func NewMediaHandler(uploader *media.Uploader) *MediaHandler {
	return &MediaHandler{uploader: uploader}
}

// Upload 处理 multipart 上传：file、student_id，以及可选的 kind（media/file，默认 media）。
// 返回的 object_key 可通过 POST /v1/records/:id/media 附加到记录。
func (h *MediaHandler) Upload(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	studentID, err := strconv.ParseUint(c.PostForm("student_id"), 10, 64)
	if err != nil || studentID == 0 {
		badRequest(c, "invalid student_id")
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "missing file")
		return
	}
	kind := media.Kind(c.DefaultPostForm("kind", string(media.KindMedia)))

	stored, err := h.uploader.Upload(c.Request.Context(), actor, uint(studentID), kind, media.Upload{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		Open:        func() (io.ReadCloser, error) { return file.Open() },
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// View 为对象键签发临时访问链接。
func (h *MediaHandler) View(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	key := c.Query("key")
	if key == "" {
		badRequest(c, "missing key")
		return
	}
	url, err := h.uploader.View(c.Request.Context(), actor, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Library 列出学生目录下已上传的对象。
func (h *MediaHandler) Library(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	studentID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "60"))
	if err != nil {
		limit = 60
	}
	objects, err := h.uploader.Library(c.Request.Context(), actor, studentID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": objects})
}
