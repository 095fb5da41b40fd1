package service

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/storage"
)

// BindingStore 绑定服务需要的存储能力。
type BindingStore interface {
	storage.AddressRepository
	storage.BindingRepository
}

// BindingService 管理发送方与转发码之间的绑定关系。
type BindingService struct {
	store BindingStore
	log   *zap.Logger
	now   func() time.Time
}

// NewBindingService 创建绑定业务服务。
func NewBindingService(store BindingStore, log *zap.Logger) *BindingService {
	return &BindingService{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// SetClock 替换时间源，仅用于测试。
func (s *BindingService) SetClock(now func() time.Time) {
	s.now = now
}

// Has 判断用户当前是否存在绑定。
func (s *BindingService) Has(userID string) bool {
	_, err := s.store.GetBinding(userID)
	return err == nil
}

// Bind 把用户绑定到指定转发码。码不存在返回 ErrAddressNotFound；
// 码设有口令时要求口令匹配；成功后覆盖用户原有绑定。
// 口令尝试次数的预算由会话流程掌握，这里保持无状态。
func (s *BindingService) Bind(userID, code, password string) error {
	address, err := s.store.GetAddress(code)
	if err != nil {
		return err
	}

	if err := VerifyPassword(address, password); err != nil {
		return err
	}

	now := s.now().UTC()
	binding := &domain.ForwardBinding{
		UserID:      userID,
		AddressCode: code,
		CreatedBy:   userID,
		UpdatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.UpsertBinding(binding); err != nil {
		return err
	}

	s.log.Info("forward binding set",
		zap.String("user_id", userID),
		zap.String("code", code),
	)
	return nil
}

// Resolve 解析用户当前的投递目标，返回所属接收会话的 ID。
// 校验顺序是固定的：绑定存在 → 码存在 → 码启用 → 码未过期，
// 调用方总能拿到最早可判定、最具体的失败原因。
// 悬空绑定（码已被删除）按未找到处理，绝不回退投递。
func (s *BindingService) Resolve(userID string) (string, error) {
	binding, err := s.store.GetBinding(userID)
	if err != nil {
		if errors.Is(err, storage.ErrBindingNotFound) {
			return "", domain.ErrAddressNotFound
		}
		return "", err
	}

	address, err := s.store.GetAddress(binding.AddressCode)
	if err != nil {
		return "", err
	}

	if !address.Active {
		return "", domain.ErrAddressNotActive
	}
	if address.Expired(s.now()) {
		return "", domain.ErrAddressExpired
	}

	return address.ChatID, nil
}

// BoundAddress 返回用户当前绑定的转发码记录（不做可用性校验）。
func (s *BindingService) BoundAddress(userID string) (*domain.Address, error) {
	binding, err := s.store.GetBinding(userID)
	if err != nil {
		if errors.Is(err, storage.ErrBindingNotFound) {
			return nil, domain.ErrAddressNotFound
		}
		return nil, err
	}
	return s.store.GetAddress(binding.AddressCode)
}
