package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"dreamGarden/internal/api/middleware"
	"dreamGarden/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎并挂载公共中间件。
func NewRouter(logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
	)
	router.MaxMultipartMemory = 32 << 20
	return router
}
