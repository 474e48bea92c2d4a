package models

import (
	"time"
)

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

func (t MediaType) Valid() bool {
	return t == MediaTypeImage || t == MediaTypeVideo
}

type Post struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Text      string     `gorm:"type:text;not null" json:"text"`
	MediaURL  *string    `json:"media_url"`
	MediaType *MediaType `gorm:"size:10" json:"media_type"`
	UserID    uint       `gorm:"<-:create;not null;index" json:"user_id"` // 创建后不可修改
	User      User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// 评分聚合缓存，只能由 RankingService 的聚合逻辑写入
	TotalRankings int     `gorm:"not null;default:0" json:"total_rankings"`
	AverageRank   float64 `gorm:"not null;default:0" json:"average_rank"`
}
