package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/habitpulse/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrUsernameTaken 在注册的用户名已存在时返回
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials 登录失败时返回，不区分用户不存在与密码错误
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidUser 当用户名或密码不满足要求时返回
	ErrInvalidUser = errors.New("invalid user")
)

const minPasswordLen = 6

// UserService 负责注册与登录校验
type UserService struct {
	db *gorm.DB
}

// NewUserService 构造 UserService
func NewUserService(gdb *gorm.DB) *UserService {
	return &UserService{db: gdb}
}

// Register 创建 bcrypt 哈希的新用户
func (s *UserService) Register(ctx context.Context, username, password string) (*db.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidUser, minPasswordLen)
	}

	gdb := s.db.WithContext(ctx)
	var count int64
	if err := gdb.Model(&db.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := db.User{Username: username, Password: string(hashed), Level: 1}
	if err := gdb.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// Authenticate 校验用户名与密码
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*db.User, error) {
	var user db.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// Get 根据 ID 获取用户
func (s *UserService) Get(ctx context.Context, id uint) (*db.User, error) {
	var user db.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}
