package services

import (
	"communityhelp/internal/models"
	"communityhelp/internal/utils"

	"gorm.io/gorm"
)

// RankingStats 由 rankings 表直接统计得到，不读取 Post 上的缓存字段
type RankingStats struct {
	TotalRankings int64   `json:"total_rankings"`
	AverageRank   float64 `json:"average_rank"`
	Rank1Count    int64   `json:"rank_1_count"`
	Rank2Count    int64   `json:"rank_2_count"`
	Rank3Count    int64   `json:"rank_3_count"`
}

func statsFromBuckets(b utils.RankBuckets) RankingStats {
	return RankingStats{
		TotalRankings: b.Total(),
		AverageRank:   b.Average(),
		Rank1Count:    b[1],
		Rank2Count:    b[2],
		Rank3Count:    b[3],
	}
}

// ComputeStats 按 rank_value 分组统计某帖子的评分
func ComputeStats(tx *gorm.DB, postID uint) (RankingStats, error) {
	type bucketRow struct {
		RankValue int
		Count     int64
	}
	var rows []bucketRow
	err := tx.Model(&models.Ranking{}).
		Select("rank_value, COUNT(*) AS count").
		Where("post_id = ?", postID).
		Group("rank_value").
		Scan(&rows).Error
	if err != nil {
		return RankingStats{}, err
	}

	var buckets utils.RankBuckets
	for _, r := range rows {
		if r.RankValue >= models.MinRankValue && r.RankValue <= models.MaxRankValue {
			buckets[r.RankValue] = r.Count
		}
	}
	return statsFromBuckets(buckets), nil
}

// RecomputeAggregate 重新统计评分并在同一条 UPDATE 中写回 total_rankings 与 average_rank。
// 调用方负责事务与帖子行锁；没有评分时两个字段归零。
func RecomputeAggregate(tx *gorm.DB, postID uint) (RankingStats, error) {
	stats, err := ComputeStats(tx, postID)
	if err != nil {
		return RankingStats{}, err
	}

	result := tx.Model(&models.Post{}).
		Where("id = ?", postID).
		UpdateColumns(map[string]interface{}{
			"total_rankings": stats.TotalRankings,
			"average_rank":   stats.AverageRank,
		})
	if result.Error != nil {
		return RankingStats{}, result.Error
	}
	if result.RowsAffected == 0 {
		return RankingStats{}, ErrPostNotFound
	}
	return stats, nil
}
