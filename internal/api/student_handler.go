package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dreamGarden/internal/student"
)

// StudentHandler 暴露学生登记与监护关系管理。
type StudentHandler struct {
	registry *student.Registry
}

func NewStudentHandler(registry *student.Registry) *StudentHandler {
	return &StudentHandler{registry: registry}
}

func (h *StudentHandler) CreateStudent(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var in student.CreateInput
	if !bindJSON(c, &in) {
		return
	}
	s, err := h.registry.CreateStudent(c.Request.Context(), actor, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newStudentResponse(s))
}

// ListStudents 返回当前用户监护的学生。
func (h *StudentHandler) ListStudents(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	students, err := h.registry.ListStudentsForGuardian(c.Request.Context(), actor.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]studentResponse, 0, len(students))
	for i := range students {
		out = append(out, newStudentResponse(&students[i]))
	}
	c.JSON(http.StatusOK, gin.H{"students": out})
}

func (h *StudentHandler) GetStudent(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	s, err := h.registry.GetStudent(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStudentResponse(s))
}

func (h *StudentHandler) DeleteStudent(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.registry.DeleteStudent(c.Request.Context(), actor, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addGuardianRequest struct {
	UserID uint `json:"user_id"`
}

func (h *StudentHandler) AddGuardian(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req addGuardianRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.UserID == 0 {
		badRequest(c, "user_id is required")
		return
	}
	s, err := h.registry.AddGuardian(c.Request.Context(), actor, id, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStudentResponse(s))
}

// RemoveGuardian 移除监护人；学生至少保留一名监护人。
func (h *StudentHandler) RemoveGuardian(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	s, err := h.registry.RemoveGuardian(c.Request.Context(), actor, id, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStudentResponse(s))
}
