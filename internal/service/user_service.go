// Package service 实现了应用的业务逻辑层。
package service

import (
	"errors"

	"documind-go/internal/model"
	"documind-go/internal/repository"
	"documind-go/pkg/hash"
	"documind-go/pkg/log"
	"documind-go/pkg/token"

	"gorm.io/gorm"
)

var (
	// ErrUsernameTaken 表示注册用户名已被占用。
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials 表示用户名或密码错误。
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// UserService 接口定义了用户相关的业务操作。
type UserService interface {
	Register(username, password string) (*model.User, error)
	Login(username, password string) (string, *model.User, error)
	Profile(userID uint) (*model.User, error)
}

type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{userRepo: userRepo, jwtManager: jwtManager}
}

// Register 注册一个新用户，密码以 bcrypt 哈希存储。
func (s *userService) Register(username, password string) (*model.User, error) {
	if _, err := s.userRepo.FindByUsername(username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{Username: username, Password: hashed}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	log.Infof("新用户注册成功: %s", username)
	return user, nil
}

// Profile 查询当前登录用户的信息。
func (s *userService) Profile(userID uint) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

// Login 校验用户名密码并签发 JWT。
func (s *userService) Login(username, password string) (string, *model.User, error) {
	user, err := s.userRepo.FindByUsername(username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	if !hash.CheckPassword(password, user.Password) {
		return "", nil, ErrInvalidCredentials
	}

	tokenStr, err := s.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", nil, err
	}
	return tokenStr, user, nil
}
