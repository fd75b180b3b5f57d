package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dreamGarden/internal/media"
	"dreamGarden/internal/record"
	"dreamGarden/internal/textcheck"
)

// RecordHandler 暴露记录的读写、关联、改写、附件与评论。
type RecordHandler struct {
	records *record.Store
	tracker *media.Tracker
}

func NewRecordHandler(records *record.Store, tracker *media.Tracker) *RecordHandler {
	return &RecordHandler{records: records, tracker: tracker}
}

// CreateRecord 创建记录。请求头 Idempotency-Key 相同的重复提交返回同一条记录。
func (h *RecordHandler) CreateRecord(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var in record.CreateInput
	if !bindJSON(c, &in) {
		return
	}
	in.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	rec, err := h.records.Create(c.Request.Context(), actor, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRecordResponse(rec, actor))
}

func (h *RecordHandler) GetRecord(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.records.Get(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRecordResponse(rec, actor))
}

// ListRecords 按时间倒序分页，next_cursor 作为下一页的 before 参数。
func (h *RecordHandler) ListRecords(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	studentID, ok := pathID(c, "id")
	if !ok {
		return
	}
	opts := record.ListOptions{Before: c.Query("before")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		opts.Limit = limit
	}

	page, err := h.records.ListForStudent(c.Request.Context(), actor, studentID, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records":     newRecordResponses(page.Records, actor),
		"next_cursor": page.NextCursor,
	})
}

func (h *RecordHandler) ToggleChecklistItem(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.records.ToggleChecklistItem(c.Request.Context(), actor, id, c.Param("itemId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRecordResponse(rec, actor))
}

type linkRequest struct {
	PreRecordID   uint `json:"pre_record_id"`
	LaterRecordID uint `json:"later_record_id"`
}

// LinkRecords 关联上学前记录与之后的记录，返回两条更新后的记录。
func (h *RecordHandler) LinkRecords(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req linkRequest
	if !bindJSON(c, &req) {
		return
	}
	pre, later, err := h.records.Link(c.Request.Context(), actor, req.PreRecordID, req.LaterRecordID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pre":   newRecordResponse(pre, actor),
		"later": newRecordResponse(later, actor),
	})
}

type neutralizeRequest struct {
	SharedText *string `json:"shared_text"`
}

func (h *RecordHandler) Neutralize(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req neutralizeRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	rec, err := h.records.Neutralize(c.Request.Context(), actor, id, req.SharedText)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRecordResponse(rec, actor))
}

type analyzeRequest struct {
	Text string `json:"text"`
}

// Analyze 只做语气分析，不写入任何数据。
func (h *RecordHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if !bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, textcheck.Analyze(req.Text))
}

// AttachMedia 追加媒体/文件引用，超出上限时整体拒绝。
func (h *RecordHandler) AttachMedia(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var refs media.Refs
	if !bindJSON(c, &refs) {
		return
	}
	rec, err := h.tracker.Attach(c.Request.Context(), actor, id, refs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRecordResponse(rec, actor))
}

type commentRequest struct {
	Content string `json:"content"`
}

func (h *RecordHandler) AddComment(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req commentRequest
	if !bindJSON(c, &req) {
		return
	}
	comment, err := h.records.AddComment(c.Request.Context(), actor, id, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCommentResponse(comment))
}

func (h *RecordHandler) ListComments(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	comments, err := h.records.ListComments(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]commentResponse, 0, len(comments))
	for i := range comments {
		out = append(out, newCommentResponse(&comments[i]))
	}
	c.JSON(http.StatusOK, gin.H{"comments": out})
}

func (h *RecordHandler) DeleteComment(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.records.DeleteComment(c.Request.Context(), actor, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
