package models

import (
	"time"
)

const (
	MinRankValue = 1
	MaxRankValue = 3
)

// Ranking 用户对他人帖子的 1-3 评分，(user_id, post_id) 唯一
type Ranking struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_rankings_user_post" json:"user_id"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_rankings_user_post;index" json:"post_id"`
	Post      Post      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"` // 删除帖子级联删除评分
	RankValue int       `gorm:"not null;check:chk_rankings_rank_value,rank_value >= 1 AND rank_value <= 3" json:"rank_value"`
	RankedAt  time.Time `gorm:"not null" json:"ranked_at"`
}
