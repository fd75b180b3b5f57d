package middleware

import (
	"github.com/gin-gonic/gin"

	"dreamGarden/internal/errcode"
	"dreamGarden/internal/metrics"
)

// ErrorResponse 是所有错误响应的统一格式。
type ErrorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// NewErrorResponse 把服务层错误映射为 HTTP 状态码与响应体。
// Transient 错误不向调用方暴露底层细节。
func NewErrorResponse(err error) (int, ErrorResponse) {
	status, code := errcode.HTTPStatus(err)
	msg := err.Error()
	if errcode.KindOf(err) == errcode.Transient {
		msg = "service temporarily unavailable, please retry"
	}
	return status, ErrorResponse{Code: code, Error: msg}
}

// AbortWithError 终止请求并写入错误响应，同时记下业务码供指标采集。
func AbortWithError(c *gin.Context, err error) {
	status, body := NewErrorResponse(err)
	c.Set(metrics.ErrorCodeKey, body.Code)
	c.AbortWithStatusJSON(status, body)
}
