package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"dreamGarden/internal/catalog"
	"dreamGarden/internal/errcode"
)

// CatalogHandler 提供情绪卡片与能力标签等参考数据。
type CatalogHandler struct {
	db *gorm.DB
}

func NewCatalogHandler(db *gorm.DB) *CatalogHandler {
	return &CatalogHandler{db: db}
}

func (h *CatalogHandler) ListEmotions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"emotions": catalog.EmotionCards()})
}

func (h *CatalogHandler) ListCompetencies(c *gin.Context) {
	competencies, err := catalog.ListCompetencies(c.Request.Context(), h.db)
	if err != nil {
		writeError(c, errcode.Wrap(err, "list competencies"))
		return
	}
	out := make([]competencyResponse, 0, len(competencies))
	for _, comp := range competencies {
		out = append(out, competencyResponse{
			ID:                  comp.ID,
			Name:                comp.Name,
			ParentID:            comp.ParentID,
			RecordCitationCount: comp.RecordCitationCount,
			RecommendedJobs:     comp.RecommendedJobs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"competencies": out})
}
