package main

import (
	"communityhelp/internal/config"
	"communityhelp/internal/db"
	"communityhelp/internal/events"
	"communityhelp/internal/log"
	"communityhelp/internal/middleware"
	"communityhelp/internal/router"
	"communityhelp/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Info.Println("No .env file found, finding env vars from system")
	}
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// Initialize Database
	gdb := db.Init(cfg.DatabaseURL, cfg.GinMode == gin.DebugMode)

	// 评分事件发布（NATS_URL 为空时不发布）
	publisher, closePublisher, err := events.Connect(cfg.NatsURL)
	if err != nil {
		log.Error.Fatalf("connect nats: %v", err)
	}
	defer closePublisher()

	// Initialize Gin
	r := gin.Default()
	r.Use(middleware.RequestID())

	// Setup Sessions
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.JWTTTL.Seconds()),
		HttpOnly: true,
	})
	r.Use(sessions.Sessions("communityhelp_session", store))

	router.RegisterRoutes(r, router.Deps{
		Auth:        services.NewAuthService(gdb, cfg.JWTSecret, cfg.JWTTTL),
		Posts:       services.NewPostService(gdb),
		Rankings:    services.NewRankingService(gdb, publisher),
		RankLimiter: middleware.NewRateLimiter(cfg.RankRatePerMinute, cfg.RankRateBurst),
	})

	log.Info.Printf("communityhelp server starting on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Error.Fatal(err)
	}
}
