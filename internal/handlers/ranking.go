package handlers

import (
	"errors"
	"net/http"

	"communityhelp/internal/services"

	"github.com/gin-gonic/gin"
)

type RankingHandler struct {
	rankings *services.RankingService
}

func NewRankingHandler(rankings *services.RankingService) *RankingHandler {
	return &RankingHandler{rankings: rankings}
}

type rankRequest struct {
	PostID    uint `json:"post_id" binding:"required"`
	RankValue *int `json:"rank_value" binding:"required"`
}

type myRankingResponse struct {
	RankValue *int `json:"rank_value"`
}

type aggregateSnapshot struct {
	TotalRankings int64   `json:"total_rankings"`
	AverageRank   float64 `json:"average_rank"`
}

type verifyResponse struct {
	PostID     uint                  `json:"post_id"`
	Consistent bool                  `json:"consistent"`
	Cached     aggregateSnapshot     `json:"cached"`
	Fresh      services.RankingStats `json:"fresh"`
}

// Rank 创建或覆盖当前用户对帖子的评分
func (h *RankingHandler) Rank(c *gin.Context) {
	var req rankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RenderError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	ranking, err := h.rankings.SubmitOrUpdate(c.Request.Context(), currentUser(c).ID, req.PostID, *req.RankValue)
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ranking)
}

// Stats 公开接口，实时统计
func (h *RankingHandler) Stats(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	stats, err := h.rankings.Stats(c.Request.Context(), id)
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// MyRanking 没评过返回 {"rank_value": null}
func (h *RankingHandler) MyRanking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ranking, found, err := h.rankings.UserRankingForPost(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	var resp myRankingResponse
	if found {
		resp.RankValue = &ranking.RankValue
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RankingHandler) MyRankings(c *gin.Context) {
	rankings, err := h.rankings.ListUserRankings(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		RenderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rankings)
}

// Verify 对比帖子缓存的聚合字段与实时统计，不一致时 consistent=false，状态码仍为 200
func (h *RankingHandler) Verify(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	check, err := h.rankings.VerifyAggregate(c.Request.Context(), id)
	if err != nil && !errors.Is(err, services.ErrAggregateDrift) {
		RenderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{
		PostID:     check.PostID,
		Consistent: check.Consistent,
		Cached: aggregateSnapshot{
			TotalRankings: int64(check.CachedTotal),
			AverageRank:   check.CachedAvg,
		},
		Fresh: check.Fresh,
	})
}
