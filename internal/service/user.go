package service

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/monitoring"
	"songrelay/backend/internal/storage"
)

// UserService 管理发送方的注册与昵称。
type UserService struct {
	repo    storage.UserRepository
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewUserService 创建用户业务服务。
func NewUserService(repo storage.UserRepository, log *zap.Logger) *UserService {
	return &UserService{repo: repo, log: log}
}

// SetMetrics 挂上监控指标，可选。
func (s *UserService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// Register 注册新的发送方。重复注册返回 ErrAlreadyRegistered。
// 昵称可以为空，展示时回退为匿名展示名。
func (s *UserService) Register(userID, nickname string) (*domain.User, error) {
	now := time.Now().UTC()
	user := &domain.User{
		ID:        userID,
		Nickname:  nickname,
		Role:      domain.RoleSender,
		CreatedBy: userID,
		UpdatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateUser(user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return nil, domain.ErrAlreadyRegistered
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.UsersRegistered.Inc()
	}
	s.log.Info("user registered", zap.String("user_id", userID))
	return user, nil
}

// Get 根据 ID 查询用户，未注册时返回 ErrNotRegistered。
func (s *UserService) Get(userID string) (*domain.User, error) {
	user, err := s.repo.GetUser(userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, domain.ErrNotRegistered
		}
		return nil, err
	}
	return user, nil
}

// IsRegistered 判断用户是否已注册。
func (s *UserService) IsRegistered(userID string) bool {
	_, err := s.repo.GetUser(userID)
	return err == nil
}

// ChangeNickname 修改用户昵称，未注册时返回 ErrNotRegistered。
func (s *UserService) ChangeNickname(userID, nickname string) error {
	if err := s.repo.UpdateUserNickname(userID, nickname); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return domain.ErrNotRegistered
		}
		return err
	}
	return nil
}
