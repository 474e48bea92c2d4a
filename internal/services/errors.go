package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrInvalidRankValue     = errors.New("rank value must be 1, 2 or 3")
	ErrPostNotFound         = errors.New("post not found")
	ErrSelfRankingForbidden = errors.New("cannot rank your own post")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrAggregateDrift       = errors.New("cached ranking aggregate does not match ranking rows")

	ErrUserExists         = errors.New("username or phone number already exists")
	ErrInvalidCredentials = errors.New("incorrect phone number or password")
	ErrUserInactive       = errors.New("user is not active")
	ErrInvalidToken       = errors.New("could not validate credentials")
	ErrNotPostOwner       = errors.New("not authorized to modify this post")
	ErrInvalidInput       = errors.New("invalid input")

	// errConstraintConflict 并发插入同一 (user, post) 时撞上唯一索引，内部转为更新重试，不对外暴露
	errConstraintConflict = errors.New("ranking constraint conflict")
)

// Postgres SQLSTATE
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// storeError 把底层存储错误包装成 ErrStoreUnavailable，业务错误原样返回
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// isRetryable 判断事务是否可以整体重试
func isRetryable(err error) bool {
	if errors.Is(err, errConstraintConflict) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}
