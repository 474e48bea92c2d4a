package handlers

import (
	"net/http"

	"communityhelp/internal/log"
	"communityhelp/internal/middleware"
	"communityhelp/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type signupRequest struct {
	Username    string `json:"username" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Password    string `json:"password" binding:"required"`
	NationalID  string `json:"national_id" binding:"required"`
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RenderError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	user, err := h.auth.Signup(c.Request.Context(), services.SignupInput{
		Username:    req.Username,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
		NationalID:  req.NationalID,
	})
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	log.Info.Printf("user %d (%s) signed up", user.ID, user.Username)
	c.JSON(http.StatusCreated, user)
}

// Login 返回 bearer 令牌，同时写入 session，浏览器和 API 客户端都能用
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RenderError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	user, err := h.auth.Authenticate(c.Request.Context(), req.PhoneNumber, req.Password)
	if err != nil {
		RenderServiceError(c, err)
		return
	}

	token, err := h.auth.IssueToken(user)
	if err != nil {
		RenderServiceError(c, err)
		return
	}

	session := sessions.Default(c)
	session.Set(middleware.SessionUserKey, user.ID)
	if err := session.Save(); err != nil {
		log.Warn.Printf("save session for user %d: %v", user.ID, err)
	}

	c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		log.Warn.Printf("clear session: %v", err)
	}
	c.Status(http.StatusNoContent)
}
