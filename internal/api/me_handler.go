package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dreamGarden/internal/api/middleware"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
)

// MeHandler 负责当前用户的资料初始化与设置，以及机构目录。
type MeHandler struct {
	resolver *identity.Resolver
}

func NewMeHandler(resolver *identity.Resolver) *MeHandler {
	return &MeHandler{resolver: resolver}
}

// GetMe 返回当前主体的资料状态；资料未完成时 user 为 null。
func (h *MeHandler) GetMe(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		writeError(c, errcode.New(errcode.Unauthenticated, "no authenticated principal"))
		return
	}
	c.JSON(http.StatusOK, meResponse{
		State: id.State,
		Email: id.Principal.Email,
		User:  newUserResponse(id.User),
	})
}

// CompleteProfile 创建当前主体的资料（角色一经设定不可更改）。
func (h *MeHandler) CompleteProfile(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		writeError(c, errcode.New(errcode.Unauthenticated, "no authenticated principal"))
		return
	}
	var in identity.ProfileInput
	if !bindJSON(c, &in) {
		return
	}
	user, err := h.resolver.CompleteProfile(c.Request.Context(), id.Principal, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meResponse{
		State: identity.StateReady,
		Email: id.Principal.Email,
		User:  newUserResponse(user),
	})
}

// UpdateSettings 修改显示名称与头像。
func (h *MeHandler) UpdateSettings(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var in identity.SettingsInput
	if !bindJSON(c, &in) {
		return
	}
	user, err := h.resolver.UpdateSettings(c.Request.Context(), actor, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *MeHandler) ListFacilities(c *gin.Context) {
	facilities, err := h.resolver.ListFacilities(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]facilityResponse, 0, len(facilities))
	for i := range facilities {
		out = append(out, newFacilityResponse(&facilities[i]))
	}
	c.JSON(http.StatusOK, gin.H{"facilities": out})
}

type createFacilityRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Address string `json:"address"`
}

func (h *MeHandler) CreateFacility(c *gin.Context) {
	var req createFacilityRequest
	if !bindJSON(c, &req) {
		return
	}
	facility, err := h.resolver.CreateFacility(c.Request.Context(), req.Name, req.Type, req.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newFacilityResponse(facility))
}
