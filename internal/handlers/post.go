package handlers

import (
	"net/http"
	"time"

	"communityhelp/internal/models"
	"communityhelp/internal/services"
	"communityhelp/internal/utils"

	"github.com/gin-gonic/gin"
)

type PostHandler struct {
	posts *services.PostService
}

func NewPostHandler(posts *services.PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

type createPostRequest struct {
	Text      string `json:"text" binding:"required"`
	MediaURL  string `json:"media_url"`
	MediaType string `json:"media_type"`
}

type postResponse struct {
	ID            uint              `json:"id"`
	Text          string            `json:"text"`
	TextHTML      string            `json:"text_html,omitempty"`
	MediaURL      *string           `json:"media_url"`
	MediaType     *models.MediaType `json:"media_type"`
	UserID        uint              `json:"user_id"`
	OwnerUsername string            `json:"owner_username,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	TotalRankings int               `json:"total_rankings"`
	AverageRank   float64           `json:"average_rank"`
}

func newPostResponse(p *models.Post, withHTML bool) postResponse {
	resp := postResponse{
		ID:            p.ID,
		Text:          p.Text,
		MediaURL:      p.MediaURL,
		MediaType:     p.MediaType,
		UserID:        p.UserID,
		OwnerUsername: p.User.Username,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		TotalRankings: p.TotalRankings,
		AverageRank:   p.AverageRank,
	}
	if withHTML {
		resp.TextHTML = utils.RenderMarkdown(p.Text)
	}
	return resp
}

func newPostList(posts []models.Post) []postResponse {
	out := make([]postResponse, 0, len(posts))
	for i := range posts {
		out = append(out, newPostResponse(&posts[i], false))
	}
	return out
}

func (h *PostHandler) Create(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RenderError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	user := currentUser(c)
	post, err := h.posts.Create(c.Request.Context(), user.ID, services.CreatePostInput{
		Text:      req.Text,
		MediaURL:  req.MediaURL,
		MediaType: req.MediaType,
	})
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	post.User = *user
	c.JSON(http.StatusCreated, newPostResponse(post, true))
}

// List 最新帖子，skip/limit 分页
func (h *PostHandler) List(c *gin.Context) {
	skip := utils.StringToInt(c.Query("skip"))
	limit := utils.StringToInt(c.Query("limit"))

	posts, err := h.posts.List(c.Request.Context(), skip, limit)
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostList(posts))
}

func (h *PostHandler) ListMine(c *gin.Context) {
	posts, err := h.posts.ListByOwner(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostList(posts))
}

func (h *PostHandler) Detail(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	post, err := h.posts.Get(c.Request.Context(), id)
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostResponse(post, true))
}

// Delete 仅作者，评分随帖子级联删除
func (h *PostHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.posts.Delete(c.Request.Context(), currentUser(c).ID, id); err != nil {
		RenderServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
