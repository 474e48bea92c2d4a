package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"communityhelp/internal/models"
	"communityhelp/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

const (
	minPasswordLen   = 6
	minNationalIDLen = 5
)

// AuthService 注册、登录与访问令牌。评分核心只信任这里解析出的 userID。
type AuthService struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthService(db *gorm.DB, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

type SignupInput struct {
	Username    string
	PhoneNumber string
	Password    string
	NationalID  string
}

func (in SignupInput) validate() error {
	switch {
	case strings.TrimSpace(in.Username) == "":
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	case !phonePattern.MatchString(in.PhoneNumber):
		return fmt.Errorf("%w: invalid phone number format", ErrInvalidInput)
	case len(in.NationalID) < minNationalIDLen:
		return fmt.Errorf("%w: national id must be at least %d characters", ErrInvalidInput, minNationalIDLen)
	case len(in.Password) < minPasswordLen:
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	return nil
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := in.validate(); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.User{}).
		Where("username = ? OR phone_number = ?", in.Username, in.PhoneNumber).
		Count(&count).Error; err != nil {
		return nil, storeError("check user", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:    in.Username,
		PhoneNumber: in.PhoneNumber,
		Password:    hash,
		NationalID:  in.NationalID,
		IsActive:    true,
	}
	if err := db.Create(&user).Error; err != nil {
		// 并发注册撞上唯一索引
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, storeError("create user", err)
	}
	return &user, nil
}

// Authenticate 手机号 + 密码校验
func (s *AuthService) Authenticate(ctx context.Context, phoneNumber, password string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeError("load user", err)
	}
	if !utils.CheckPasswordHash(password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return &user, nil
}

// IssueToken 签发 HS256 访问令牌，sub 为用户 ID
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(user.ID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ParseToken 返回令牌中的用户 ID
func (s *AuthService) ParseToken(tokenString string) (uint, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

// FindActiveUser 未找到或已停用都返回 ErrInvalidToken
func (s *AuthService) FindActiveUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, storeError("load user", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return &user, nil
}
