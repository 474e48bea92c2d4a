package db

import (
	"fmt"
	"time"

	"communityhelp/internal/log"
	"communityhelp/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init 连接 PostgreSQL 并完成迁移，失败直接退出进程
func Init(dsn string, debug bool) *gorm.DB {
	db, err := Open(postgres.Open(dsn), debug)
	if err != nil {
		log.Error.Fatalf("Failed to connect to database: %v", err)
	}
	log.Info.Println("Database connection established")

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := Migrate(db); err != nil {
		log.Error.Fatalf("Failed to migrate database: %v", err)
	}
	log.Info.Println("Database migration completed")
	return db
}

// Open 打开任意 dialector，测试里用 sqlite
func Open(dialector gorm.Dialector, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true, // 唯一约束冲突 -> gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.Ranking{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	addCustomIndexes(db)
	return nil
}

func addCustomIndexes(db *gorm.DB) {
	// 列表页按时间倒序
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC)").Error; err != nil {
		log.Warn.Printf("Could not create index for posts created_at: %v", err)
	}

	// 统计时按 post_id 分组 rank_value
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_rankings_post_value ON rankings(post_id, rank_value)").Error; err != nil {
		log.Warn.Printf("Could not create index for rankings post/value: %v", err)
	}
}
