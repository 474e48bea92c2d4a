package services

import (
	"context"
	"errors"
	"time"

	"communityhelp/internal/events"
	"communityhelp/internal/log"
	"communityhelp/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 唯一索引冲突、序列化失败、死锁时整个事务最多重试的次数
const maxSubmitAttempts = 5

// RankingService 评分的写入与查询。
// 不持有任何进程内缓存，唯一的缓存是 posts 表上的聚合字段。
type RankingService struct {
	db        *gorm.DB
	publisher events.Publisher
	now       func() time.Time
}

func NewRankingService(db *gorm.DB, publisher events.Publisher) *RankingService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &RankingService{
		db:        db,
		publisher: publisher,
		now:       time.Now,
	}
}

// ValidateRankValue 评分只能是 1、2、3
func ValidateRankValue(v int) error {
	if v < models.MinRankValue || v > models.MaxRankValue {
		return ErrInvalidRankValue
	}
	return nil
}

// SubmitOrUpdate 创建或覆盖 rater 对 post 的评分，并在同一事务内重算帖子聚合字段。
// 同一帖子的并发提交通过 posts 行锁串行化。
func (s *RankingService) SubmitOrUpdate(ctx context.Context, raterID, postID uint, rankValue int) (*models.Ranking, error) {
	if err := ValidateRankValue(rankValue); err != nil {
		return nil, err
	}

	var (
		ranking *models.Ranking
		stats   RankingStats
		err     error
	)
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		ranking, stats, err = s.submitOnce(ctx, raterID, postID, rankValue)
		if err == nil || !isRetryable(err) {
			break
		}
		log.Warn.Printf("ranking submit for user %d post %d conflicted (attempt %d): %v", raterID, postID, attempt, err)
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrPostNotFound), errors.Is(err, ErrSelfRankingForbidden):
			return nil, err
		default:
			return nil, storeError("submit ranking", err)
		}
	}

	evt := events.RankingUpdatedEvent{
		PostID:        postID,
		UserID:        raterID,
		RankValue:     ranking.RankValue,
		TotalRankings: stats.TotalRankings,
		AverageRank:   stats.AverageRank,
		At:            s.now(),
	}
	if err := s.publisher.PublishRankingUpdated(ctx, evt); err != nil {
		log.Warn.Printf("publish ranking event for post %d failed: %v", postID, err)
	}

	return ranking, nil
}

func (s *RankingService) submitOnce(ctx context.Context, raterID, postID uint, rankValue int) (*models.Ranking, RankingStats, error) {
	var (
		ranking models.Ranking
		stats   RankingStats
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住帖子行，同一帖子的写入在此排队
		var post models.Post
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "user_id").
			Take(&post, postID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}
		if post.UserID == raterID {
			return ErrSelfRankingForbidden
		}

		err = tx.Where("user_id = ? AND post_id = ?", raterID, postID).Take(&ranking).Error
		switch {
		case err == nil:
			// 已评分：只覆盖 rank_value，保留首次评分时间
			if ranking.RankValue != rankValue {
				if err := tx.Model(&models.Ranking{}).
					Where("id = ?", ranking.ID).
					UpdateColumn("rank_value", rankValue).Error; err != nil {
					return err
				}
				ranking.RankValue = rankValue
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			ranking = models.Ranking{
				UserID:    raterID,
				PostID:    postID,
				RankValue: rankValue,
				RankedAt:  s.now(),
			}
			if err := tx.Omit(clause.Associations).Create(&ranking).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errConstraintConflict
				}
				return err
			}
		default:
			return err
		}

		stats, err = RecomputeAggregate(tx, postID)
		return err
	})
	if err != nil {
		return nil, RankingStats{}, err
	}
	return &ranking, stats, nil
}

// Stats 帖子不存在返回 ErrPostNotFound，没有评分返回全零
func (s *RankingService) Stats(ctx context.Context, postID uint) (RankingStats, error) {
	db := s.db.WithContext(ctx)
	if err := s.ensurePost(db, postID); err != nil {
		return RankingStats{}, err
	}
	stats, err := ComputeStats(db, postID)
	if err != nil {
		return RankingStats{}, storeError("ranking stats", err)
	}
	return stats, nil
}

// UserRankingForPost 没有评分时返回 (nil, false, nil)
func (s *RankingService) UserRankingForPost(ctx context.Context, userID, postID uint) (*models.Ranking, bool, error) {
	var ranking models.Ranking
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Take(&ranking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, storeError("user ranking", err)
	}
	return &ranking, true, nil
}

// ListUserRankings 返回用户给出的全部评分，顺序不作保证
func (s *RankingService) ListUserRankings(ctx context.Context, userID uint) ([]models.Ranking, error) {
	rankings := make([]models.Ranking, 0)
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rankings).Error; err != nil {
		return nil, storeError("list user rankings", err)
	}
	return rankings, nil
}

// AggregateCheck 缓存字段与实时统计的对比结果
type AggregateCheck struct {
	PostID      uint         `json:"post_id"`
	CachedTotal int          `json:"cached_total_rankings"`
	CachedAvg   float64      `json:"cached_average_rank"`
	Fresh       RankingStats `json:"fresh"`
	Consistent  bool         `json:"consistent"`
}

// VerifyAggregate 不一致时返回 check 和 ErrAggregateDrift
func (s *RankingService) VerifyAggregate(ctx context.Context, postID uint) (*AggregateCheck, error) {
	check := &AggregateCheck{PostID: postID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Select("id", "total_rankings", "average_rank").Take(&post, postID).Error; err != nil {
			return err
		}
		fresh, err := ComputeStats(tx, postID)
		if err != nil {
			return err
		}
		check.CachedTotal = post.TotalRankings
		check.CachedAvg = post.AverageRank
		check.Fresh = fresh
		check.Consistent = int64(post.TotalRankings) == fresh.TotalRankings && post.AverageRank == fresh.AverageRank
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, storeError("verify aggregate", err)
	}
	if !check.Consistent {
		return check, ErrAggregateDrift
	}
	return check, nil
}

// RebuildAggregate 在帖子行锁下重算聚合字段，用于修复不一致
func (s *RankingService) RebuildAggregate(ctx context.Context, postID uint) (RankingStats, error) {
	var stats RankingStats
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Take(&post, postID).Error; err != nil {
			return err
		}
		var err error
		stats, err = RecomputeAggregate(tx, postID)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrPostNotFound) {
			return RankingStats{}, ErrPostNotFound
		}
		return RankingStats{}, storeError("rebuild aggregate", err)
	}
	return stats, nil
}

func (s *RankingService) ensurePost(db *gorm.DB, postID uint) error {
	var post models.Post
	if err := db.Select("id").Take(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPostNotFound
		}
		return storeError("load post", err)
	}
	return nil
}
