package storage

import (
	"time"

	"songrelay/backend/internal/domain"
)

// AddressFilter 列举转发码时的过滤方式
type AddressFilter string

const (
	// FilterAll 返回全部转发码
	FilterAll AddressFilter = "all"
	// FilterLive 仅返回仍在展示窗口内的转发码
	FilterLive AddressFilter = "live"
)

// AddressRepository 定义转发码数据存取操作。
// 所有变更都是单行原子操作，并回填 updated-by/updated-at。
type AddressRepository interface {
	SaveAddress(address *domain.Address) error
	GetAddress(code string) (*domain.Address, error)
	ListAddressesByOwner(chatID string, filter AddressFilter, now time.Time) ([]domain.Address, error)
	CountLiveAddresses(chatID string, now time.Time) (int, error)
	UpdateAddressActive(code string, active bool, updatedBy string) error
	UpdateAddressValidUntil(code string, validUntil *time.Time, updatedBy string) error
	DeleteAddress(code string) error // 删除不存在的码按无操作处理
	ListReleaseReady(now time.Time) ([]domain.Address, error)
	ListExpiredBetween(from, to time.Time) ([]domain.Address, error)
}

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUser(id string) (*domain.User, error)
	UpdateUserNickname(id, nickname string) error
}

// RecipientChatRepository 定义接收会话数据存取操作。
type RecipientChatRepository interface {
	CreateRecipientChat(chat *domain.RecipientChat) error
	GetRecipientChat(chatID string) (*domain.RecipientChat, error)
}

// BindingRepository 定义转发绑定数据存取操作。
type BindingRepository interface {
	UpsertBinding(binding *domain.ForwardBinding) error // 覆盖而不是新增
	GetBinding(userID string) (*domain.ForwardBinding, error)
}

// RateLimiter 定义频率限制计数操作，窗口到期后计数自动失效。
type RateLimiter interface {
	IncrementRateLimit(key string, window time.Duration) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	AddressRepository
	UserRepository
	RecipientChatRepository
	BindingRepository

	Close() error
	Health() error
}
