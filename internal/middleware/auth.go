package middleware

import (
	"errors"
	"net/http"
	"strings"

	"communityhelp/internal/log"
	"communityhelp/internal/models"
	"communityhelp/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	CheckUserKey   = "user"
	SessionUserKey = "user_id"
	// 加载用户时存储不可用，AuthRequired 据此返回 503 而不是 401
	LoadUserErrKey = "load_user_err"
)

// AuthRequired 未登录返回 401，加载用户时存储不可用返回 503
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			if _, failed := c.Get(LoadUserErrKey); failed {
				c.Header("Retry-After", "5")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
					Error:   "store_unavailable",
					Message: "Service temporarily unavailable, please retry",
					Code:    http.StatusServiceUnavailable,
				})
				return
			}
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "Could not validate credentials",
				Code:    http.StatusUnauthorized,
			})
			return
		}
		c.Next()
	}
}

// LoadUser 先看 Authorization: Bearer，再看 session，解析出的活跃用户放进 context
func LoadUser(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := bearerUserID(c, auth)
		if !ok {
			userID, ok = sessionUserID(c)
		}

		if ok {
			user, err := auth.FindActiveUser(c.Request.Context(), userID)
			switch {
			case err == nil:
				c.Set(CheckUserKey, user)
			case errors.Is(err, services.ErrStoreUnavailable):
				log.Warn.Printf("load user %d: %v", userID, err)
				c.Set(LoadUserErrKey, err)
			}
		}
		c.Next()
	}
}

// CurrentUser 未登录返回 nil
func CurrentUser(c *gin.Context) *models.User {
	v, exists := c.Get(CheckUserKey)
	if !exists {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

func bearerUserID(c *gin.Context, auth *services.AuthService) (uint, bool) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return 0, false
	}
	id, err := auth.ParseToken(strings.TrimSpace(token))
	if err != nil {
		return 0, false
	}
	return id, true
}

func sessionUserID(c *gin.Context) (uint, bool) {
	session := sessions.Default(c)
	switch v := session.Get(SessionUserKey).(type) {
	case uint:
		return v, v != 0
	case int:
		return uint(v), v > 0
	default:
		return 0, false
	}
}
