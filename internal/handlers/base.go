package handlers

import (
	"errors"
	"net/http"

	"communityhelp/internal/log"
	"communityhelp/internal/middleware"
	"communityhelp/internal/models"
	"communityhelp/internal/services"
	"communityhelp/internal/utils"

	"github.com/gin-gonic/gin"
)

// 存储不可用时建议客户端重试的秒数
const retryAfterSeconds = "5"

// RenderError 统一错误输出
func RenderError(c *gin.Context, code int, errCode, message string) {
	c.AbortWithStatusJSON(code, middleware.ErrorResponse{
		Error:   errCode,
		Message: message,
		Code:    code,
	})
}

// RenderServiceError 把 services 的哨兵错误翻译成 HTTP 状态码
func RenderServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidRankValue):
		RenderError(c, http.StatusBadRequest, "invalid_rank_value", msg(err))
	case errors.Is(err, services.ErrInvalidInput):
		RenderError(c, http.StatusBadRequest, "invalid_input", msg(err))
	case errors.Is(err, services.ErrSelfRankingForbidden):
		RenderError(c, http.StatusForbidden, "self_ranking_forbidden", msg(err))
	case errors.Is(err, services.ErrNotPostOwner):
		RenderError(c, http.StatusForbidden, "forbidden", msg(err))
	case errors.Is(err, services.ErrPostNotFound):
		RenderError(c, http.StatusNotFound, "post_not_found", msg(err))
	case errors.Is(err, services.ErrUserExists):
		RenderError(c, http.StatusConflict, "user_exists", msg(err))
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidToken):
		c.Header("WWW-Authenticate", "Bearer")
		RenderError(c, http.StatusUnauthorized, "unauthorized", msg(err))
	case errors.Is(err, services.ErrUserInactive):
		RenderError(c, http.StatusBadRequest, "inactive_user", msg(err))
	case errors.Is(err, services.ErrStoreUnavailable):
		log.Error.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.Header("Retry-After", retryAfterSeconds)
		RenderError(c, http.StatusServiceUnavailable, "store_unavailable", "Service temporarily unavailable, please retry")
	default:
		log.Error.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		RenderError(c, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// currentUser 只在 AuthRequired 之后的路由里使用
func currentUser(c *gin.Context) *models.User {
	return middleware.CurrentUser(c)
}

// paramID 解析路径 ID，非法时直接写 400
func paramID(c *gin.Context, name string) (uint, bool) {
	id, ok := utils.ParseID(c.Param(name))
	if !ok {
		RenderError(c, http.StatusBadRequest, "invalid_id", "Invalid "+name)
		return 0, false
	}
	return id, true
}

func msg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
