package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dreamGarden/internal/api/middleware"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
)

// writeError 是服务层错误到 HTTP 响应的唯一出口。
func writeError(c *gin.Context, err error) {
	if status, _ := errcode.HTTPStatus(err); status >= http.StatusInternalServerError {
		middleware.LoggerFromContext(c).Error("request failed", slog.Any("error", err))
	}
	middleware.AbortWithError(c, err)
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, errcode.New(errcode.ValidationError, "%s", msg))
}

// actorOrAbort 取出已完成资料的调用者；路由都挂了 RequireProfile，这里只做兜底。
func actorOrAbort(c *gin.Context) (identity.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		writeError(c, errcode.New(errcode.Forbidden, "profile is incomplete"))
	}
	return actor, ok
}

// pathID 解析路径中的正整数 ID。
func pathID(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body")
		return false
	}
	return true
}
