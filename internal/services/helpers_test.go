package services

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"communityhelp/internal/db"
	"communityhelp/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var phoneSeq atomic.Int64

// newTestDB 每个测试独立的 sqlite 文件库，单连接保证事务串行
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on&_busy_timeout=5000"
	gdb, err := db.Open(sqlite.Open(dsn), false)
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func createUser(t *testing.T, gdb *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username:    name,
		PhoneNumber: fmt.Sprintf("+1%09d", phoneSeq.Add(1)),
		Password:    "hash",
		NationalID:  "ID-12345",
		IsActive:    true,
	}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

func createPost(t *testing.T, gdb *gorm.DB, owner *models.User) *models.Post {
	t.Helper()
	p := &models.Post{Text: "need help with " + owner.Username, UserID: owner.ID}
	require.NoError(t, gdb.Omit("User").Create(p).Error)
	return p
}

func reloadPost(t *testing.T, gdb *gorm.DB, id uint) models.Post {
	t.Helper()
	var p models.Post
	require.NoError(t, gdb.Take(&p, id).Error)
	return p
}

func countRankings(t *testing.T, gdb *gorm.DB, postID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(&models.Ranking{}).Where("post_id = ?", postID).Count(&n).Error)
	return n
}
