package api

import (
	"github.com/gin-gonic/gin"

	"dreamGarden/internal/api/middleware"
	"dreamGarden/internal/config"
	"dreamGarden/internal/metrics"
)

// Handlers 汇总各路由组的处理器。
type Handlers struct {
	Me        *MeHandler
	Students  *StudentHandler
	Records   *RecordHandler
	Media     *MediaHandler
	Portfolio *PortfolioHandler
	Catalog   *CatalogHandler
	Health    *HealthHandler
	Ws        *WsHandler
}

// RegisterRoutes 注册 /v1 下的 API 路由以及 /health、/metrics。
func RegisterRoutes(
	router *gin.Engine,
	cfg config.APIConfig,
	h Handlers,
	tokens middleware.TokenVerifier,
	resolver middleware.IdentityResolver,
) {
	router.GET("/health", h.Health.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	v1.GET("/ws", h.Ws.HandleConnection)

	authed := v1.Group("")
	authed.Use(middleware.RequestTimeout(cfg.RequestTimeout), middleware.AuthMiddleware(tokens, resolver))
	{
		authed.GET("/me", h.Me.GetMe)
		authed.POST("/me/profile", h.Me.CompleteProfile)
		authed.GET("/emotions", h.Catalog.ListEmotions)
		authed.GET("/competencies", h.Catalog.ListCompetencies)
		authed.GET("/facilities", h.Me.ListFacilities)
		authed.POST("/facilities", h.Me.CreateFacility)
	}

	ready := authed.Group("")
	ready.Use(middleware.RequireProfile())
	{
		ready.PATCH("/me", h.Me.UpdateSettings)

		students := ready.Group("/students")
		students.POST("", h.Students.CreateStudent)
		students.GET("", h.Students.ListStudents)
		students.GET("/:id", h.Students.GetStudent)
		students.DELETE("/:id", h.Students.DeleteStudent)
		students.POST("/:id/guardians", h.Students.AddGuardian)
		students.DELETE("/:id/guardians/:userId", h.Students.RemoveGuardian)
		students.GET("/:id/records", h.Records.ListRecords)
		students.GET("/:id/media", h.Media.Library)
		students.GET("/:id/portfolio", h.Portfolio.GetPortfolio)
		students.POST("/:id/portfolio/regenerate", h.Portfolio.Regenerate)
		students.POST("/:id/portfolio/pdf", h.Portfolio.RequestPDF)
		students.GET("/:id/portfolio/pdf", h.Portfolio.GetPDF)

		records := ready.Group("/records")
		records.POST("", h.Records.CreateRecord)
		records.POST("/link", h.Records.LinkRecords)
		records.POST("/analyze", h.Records.Analyze)
		records.GET("/:id", h.Records.GetRecord)
		records.POST("/:id/checklist/:itemId/toggle", h.Records.ToggleChecklistItem)
		records.POST("/:id/neutralize", h.Records.Neutralize)
		records.POST("/:id/media", h.Records.AttachMedia)
		records.GET("/:id/comments", h.Records.ListComments)
		records.POST("/:id/comments", h.Records.AddComment)

		ready.DELETE("/comments/:id", h.Records.DeleteComment)

		ready.POST("/media/upload", h.Media.Upload)
		ready.GET("/media/view", h.Media.View)
	}
}
