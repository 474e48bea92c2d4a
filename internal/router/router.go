package router

import (
	"communityhelp/internal/handlers"
	"communityhelp/internal/middleware"
	"communityhelp/internal/services"

	"github.com/gin-gonic/gin"
)

// Deps 路由需要的服务
type Deps struct {
	Auth        *services.AuthService
	Posts       *services.PostService
	Rankings    *services.RankingService
	RankLimiter *middleware.RateLimiter
}

// RegisterRoutes 调用前 engine 上需要已经挂好 sessions 中间件
func RegisterRoutes(r *gin.Engine, deps Deps) {
	// Handlers
	authHandler := handlers.NewAuthHandler(deps.Auth)
	postHandler := handlers.NewPostHandler(deps.Posts)
	rankingHandler := handlers.NewRankingHandler(deps.Rankings)

	r.Use(middleware.LoadUser(deps.Auth))

	// 认证 (Auth)
	auth := r.Group("/auth")
	{
		auth.POST("/signup", authHandler.Signup) // 注册
		auth.POST("/login", authHandler.Login)   // 登录，返回 bearer 令牌并写 session
		auth.POST("/logout", authHandler.Logout) // 退出登录
		auth.GET("/me", middleware.AuthRequired(), authHandler.Me)
	}

	// 帖子 (Posts)
	r.GET("/posts", postHandler.List)       // 最新帖子
	r.GET("/posts/:id", postHandler.Detail) // 帖子详情
	posts := r.Group("/posts")
	posts.Use(middleware.AuthRequired())
	{
		posts.POST("", postHandler.Create)       // 发帖
		posts.GET("/mine", postHandler.ListMine) // 我的帖子
		posts.DELETE("/:id", postHandler.Delete) // 删除帖子（级联删除评分）
	}

	// 评分 (Rankings)
	r.GET("/rankings/post/:id/stats", rankingHandler.Stats) // 公开的评分统计
	rankings := r.Group("/rankings")
	rankings.Use(middleware.AuthRequired())
	{
		submit := []gin.HandlerFunc{rankingHandler.Rank}
		if deps.RankLimiter != nil {
			submit = append([]gin.HandlerFunc{deps.RankLimiter.Middleware()}, submit...)
		}
		rankings.POST("", submit...)                                   // 提交或修改评分
		rankings.GET("/post/:id/my-ranking", rankingHandler.MyRanking) // 我对该帖的评分
		rankings.GET("/user/my-rankings", rankingHandler.MyRankings)   // 我给出的全部评分
		rankings.GET("/post/:id/verify", rankingHandler.Verify)        // 聚合字段一致性检查
	}
}
