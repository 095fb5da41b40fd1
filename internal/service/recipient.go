package service

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/storage"
)

// RecipientStore 收信端注册所需的存储能力。
type RecipientStore interface {
	storage.UserRepository
	storage.RecipientChatRepository
}

// RecipientService 管理收信会话的注册。
type RecipientService struct {
	store RecipientStore
	log   *zap.Logger
}

// NewRecipientService 创建收信端业务服务。
func NewRecipientService(store RecipientStore, log *zap.Logger) *RecipientService {
	return &RecipientService{store: store, log: log}
}

// Register 把一个会话注册为收信端。重复注册是无害的空操作，
// created 返回 false 以便调用方给出不同的提示文案。
// 执行操作的用户若尚未注册，会以收信端角色顺带建档。
func (s *RecipientService) Register(chatID string, kind domain.ChatKind, actorID, actorNickname string) (bool, error) {
	now := time.Now().UTC()

	if _, err := s.store.GetUser(actorID); err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			return false, err
		}
		user := &domain.User{
			ID:        actorID,
			Nickname:  actorNickname,
			Role:      domain.RoleRecipient,
			CreatedBy: actorID,
			UpdatedBy: actorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateUser(user); err != nil && !errors.Is(err, storage.ErrUserExists) {
			return false, err
		}
	}

	chat := &domain.RecipientChat{
		ChatID:    chatID,
		ChatKind:  kind,
		CreatedBy: actorID,
		UpdatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRecipientChat(chat); err != nil {
		if errors.Is(err, storage.ErrChatExists) {
			return false, nil
		}
		return false, err
	}

	s.log.Info("recipient chat registered",
		zap.String("chat_id", chatID),
		zap.String("kind", string(kind)),
		zap.String("actor", actorID))
	return true, nil
}

// IsRegistered 判断会话是否已登记为收信端。
func (s *RecipientService) IsRegistered(chatID string) bool {
	_, err := s.store.GetRecipientChat(chatID)
	return err == nil
}
