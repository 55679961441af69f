package api

import (
	"github.com/gin-gonic/gin"

	"github.com/soundbysound/apigateway/internal/core"
	"github.com/soundbysound/apigateway/internal/logger"
)

// abortWithError 统一输出错误信封；未分类错误按内部错误处理并记录日志
func abortWithError(c *gin.Context, err error) {
	gwErr := core.AsError(err)
	if gwErr.Kind == core.KindInternal {
		logger.Error("request failed",
			"requestId", requestIDFromContext(c),
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(gwErr.Status, gwErr.Response())
}
