package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"communityhelp/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPostLimit = 100
	MaxPostLimit     = 100
)

type PostService struct {
	db *gorm.DB
}

func NewPostService(db *gorm.DB) *PostService {
	return &PostService{db: db}
}

type CreatePostInput struct {
	Text      string
	MediaURL  string
	MediaType string
}

// Create 聚合字段由数据库默认值置零，之后只能由评分聚合写入
func (s *PostService) Create(ctx context.Context, ownerID uint, in CreatePostInput) (*models.Post, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}

	post := models.Post{
		Text:   text,
		UserID: ownerID,
	}
	if url := strings.TrimSpace(in.MediaURL); url != "" {
		mt := models.MediaType(strings.ToLower(strings.TrimSpace(in.MediaType)))
		if !mt.Valid() {
			return nil, fmt.Errorf("%w: media_type must be image or video", ErrInvalidInput)
		}
		post.MediaURL = &url
		post.MediaType = &mt
	} else if in.MediaType != "" {
		return nil, fmt.Errorf("%w: media_type given without media_url", ErrInvalidInput)
	}

	err := s.db.WithContext(ctx).
		Omit(clause.Associations, "total_rankings", "average_rank").
		Create(&post).Error
	if err != nil {
		return nil, storeError("create post", err)
	}
	return &post, nil
}

// Get 连带加载作者
func (s *PostService) Get(ctx context.Context, postID uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Preload("User").Take(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, storeError("get post", err)
	}
	return &post, nil
}

// List 按创建时间倒序
func (s *PostService) List(ctx context.Context, skip, limit int) ([]models.Post, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultPostLimit
	}
	if limit > MaxPostLimit {
		limit = MaxPostLimit
	}

	posts := make([]models.Post, 0)
	err := s.db.WithContext(ctx).
		Preload("User").
		Order("created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, storeError("list posts", err)
	}
	return posts, nil
}

func (s *PostService) ListByOwner(ctx context.Context, ownerID uint) ([]models.Post, error) {
	posts := make([]models.Post, 0)
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("user_id = ?", ownerID).
		Order("created_at DESC").
		Find(&posts).Error
	if err != nil {
		return nil, storeError("list own posts", err)
	}
	return posts, nil
}

// Delete 仅作者可删；rankings 通过外键级联删除
func (s *PostService) Delete(ctx context.Context, ownerID, postID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "user_id").Take(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return storeError("load post", err)
		}
		if post.UserID != ownerID {
			return ErrNotPostOwner
		}
		if err := tx.Delete(&models.Post{}, postID).Error; err != nil {
			return storeError("delete post", err)
		}
		return nil
	})
}
